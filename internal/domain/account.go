package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"solana-lending-lab/internal/pubkey"
)

// Account is an independently addressed ledger record.
// Corresponds to the accounts table in PostgreSQL.
type Account struct {
	Address pubkey.PublicKey // record address
	Owner   pubkey.PublicKey // program allowed to write Data
	Data    []byte           // program-defined binary layout
	Version uint64           // bumped on every committed write; 0 means absent
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.Data = append([]byte(nil), a.Data...)
	return &out
}

// Layout errors.
var (
	// ErrTypeMismatch is returned when account data carries a different type tag.
	ErrTypeMismatch = errors.New("account type tag mismatch")

	// ErrShortData is returned when account data is shorter than the layout.
	ErrShortData = errors.New("account data too short")
)

// TagSize is the length of a record type tag.
const TagSize = 8

// Tag is the leading type discriminator of a program-owned record:
// the first 8 bytes of sha256("account:<Name>").
type Tag [TagSize]byte

// NewTag computes the tag for a record name.
func NewTag(name string) Tag {
	sum := sha256.Sum256([]byte("account:" + name))
	var t Tag
	copy(t[:], sum[:TagSize])
	return t
}

// Record tags.
var (
	TagPriceOracle       = NewTag("PriceOracle")
	TagConfig            = NewTag("Config")
	TagMarket            = NewTag("Market")
	TagUserSupplyAccount = NewTag("UserSupplyAccount")
	TagMint              = NewTag("Mint")
	TagRequestReceipt    = NewTag("RequestReceipt")
)

// encoder appends little-endian fields.
type encoder struct {
	buf []byte
}

func newEncoder(tag *Tag, size int) *encoder {
	e := &encoder{buf: make([]byte, 0, size)}
	if tag != nil {
		e.buf = append(e.buf, tag[:]...)
	}
	return e
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) i8(v int8)    { e.buf = append(e.buf, byte(v)) }
func (e *encoder) u16(v uint16) { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }
func (e *encoder) key(k pubkey.PublicKey) {
	e.buf = append(e.buf, k[:]...)
}
func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
		return
	}
	e.u8(0)
}

// decoder reads little-endian fields; the first failure sticks.
type decoder struct {
	data []byte
	off  int
	err  error
}

func newDecoder(data []byte, tag *Tag, size int) *decoder {
	d := &decoder{data: data}
	if len(data) < size {
		d.err = fmt.Errorf("%w: have %d, need %d", ErrShortData, len(data), size)
		return d
	}
	if tag != nil {
		var got Tag
		copy(got[:], data[:TagSize])
		if got != *tag {
			d.err = ErrTypeMismatch
			return d
		}
		d.off = TagSize
	}
	return d
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) i8() int8 { return int8(d.u8()) }

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) key() pubkey.PublicKey {
	var k pubkey.PublicKey
	if b := d.take(pubkey.Size); b != nil {
		copy(k[:], b)
	}
	return k
}

func (d *decoder) bool() bool { return d.u8() != 0 }

// HasTag reports whether data starts with tag.
func HasTag(data []byte, tag Tag) bool {
	if len(data) < TagSize {
		return false
	}
	var got Tag
	copy(got[:], data[:TagSize])
	return got == tag
}
