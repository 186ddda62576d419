package domain

import "solana-lending-lab/internal/pubkey"

// PriceOracle is a price feed record. Authority is fixed at creation and is
// the only identity allowed to change Price.
type PriceOracle struct {
	Address         pubkey.PublicKey // oracle account address (not serialized)
	Authority       pubkey.PublicKey // creator, immutable
	Price           uint64           // smallest-unit price
	Exponent        int8             // display scale: Price * 10^Exponent
	LastUpdatedSlot uint64
}

// PriceOracleSize is the serialized length including the tag.
const PriceOracleSize = TagSize + 32 + 8 + 1 + 8

// MarshalBinary encodes the record with its type tag.
func (o *PriceOracle) MarshalBinary() ([]byte, error) {
	e := newEncoder(&TagPriceOracle, PriceOracleSize)
	e.key(o.Authority)
	e.u64(o.Price)
	e.i8(o.Exponent)
	e.u64(o.LastUpdatedSlot)
	return e.buf, nil
}

// UnmarshalBinary decodes data, rejecting any other record type.
func (o *PriceOracle) UnmarshalBinary(data []byte) error {
	d := newDecoder(data, &TagPriceOracle, PriceOracleSize)
	o.Authority = d.key()
	o.Price = d.u64()
	o.Exponent = d.i8()
	o.LastUpdatedSlot = d.u64()
	return d.err
}

// SetAddress records the account address the record was loaded from.
func (o *PriceOracle) SetAddress(a pubkey.PublicKey) { o.Address = a }

// Config is the per-deployment singleton.
type Config struct {
	Address             pubkey.PublicKey // config PDA (not serialized)
	Admin               pubkey.PublicKey
	PermissionedMarkets bool  // when set only Admin may create markets
	Bump                uint8 // config PDA bump
}

// ConfigSize is the serialized length including the tag.
const ConfigSize = TagSize + 32 + 1 + 1

// MarshalBinary encodes the record with its type tag.
func (c *Config) MarshalBinary() ([]byte, error) {
	e := newEncoder(&TagConfig, ConfigSize)
	e.key(c.Admin)
	e.bool(c.PermissionedMarkets)
	e.u8(c.Bump)
	return e.buf, nil
}

// UnmarshalBinary decodes data, rejecting any other record type.
func (c *Config) UnmarshalBinary(data []byte) error {
	d := newDecoder(data, &TagConfig, ConfigSize)
	c.Admin = d.key()
	c.PermissionedMarkets = d.bool()
	c.Bump = d.u8()
	return d.err
}

// SetAddress records the account address the record was loaded from.
func (c *Config) SetAddress(a pubkey.PublicKey) { c.Address = a }

// Market pairs a supply asset and a collateral asset with a custody vault and
// price sources. (ID, SupplyMint, CollateralMint) determines Address.
type Market struct {
	Address          pubkey.PublicKey // market PDA (not serialized)
	ID               uint64           // caller-chosen numeric id
	SupplyMint       pubkey.PublicKey
	CollateralMint   pubkey.PublicKey
	SupplyOracle     pubkey.PublicKey
	CollateralOracle pubkey.PublicKey
	Vault            pubkey.PublicKey // token account owned by Address
	Authority        pubkey.PublicKey // creator
	TotalSupply      uint64           // sum of all cToken balances
	TotalCollateral  uint64
	AuthorityBump    uint8 // bump of Address, needed to sign for the vault
}

// MarketSize is the serialized length including the tag.
const MarketSize = TagSize + 8 + 6*32 + 8 + 8 + 1

// MarshalBinary encodes the record with its type tag.
func (m *Market) MarshalBinary() ([]byte, error) {
	e := newEncoder(&TagMarket, MarketSize)
	e.u64(m.ID)
	e.key(m.SupplyMint)
	e.key(m.CollateralMint)
	e.key(m.SupplyOracle)
	e.key(m.CollateralOracle)
	e.key(m.Vault)
	e.key(m.Authority)
	e.u64(m.TotalSupply)
	e.u64(m.TotalCollateral)
	e.u8(m.AuthorityBump)
	return e.buf, nil
}

// UnmarshalBinary decodes data, rejecting any other record type.
func (m *Market) UnmarshalBinary(data []byte) error {
	d := newDecoder(data, &TagMarket, MarketSize)
	m.ID = d.u64()
	m.SupplyMint = d.key()
	m.CollateralMint = d.key()
	m.SupplyOracle = d.key()
	m.CollateralOracle = d.key()
	m.Vault = d.key()
	m.Authority = d.key()
	m.TotalSupply = d.u64()
	m.TotalCollateral = d.u64()
	m.AuthorityBump = d.u8()
	return d.err
}

// SetAddress records the account address the record was loaded from.
func (m *Market) SetAddress(a pubkey.PublicKey) { m.Address = a }

// UserSupplyAccount is a user's claim on one market. Market precedes User in
// the layout so that all positions of a market share a data prefix.
type UserSupplyAccount struct {
	Address       pubkey.PublicKey // PDA of (user, market) (not serialized)
	Market        pubkey.PublicKey
	User          pubkey.PublicKey
	CTokenBalance uint64
	Bump          uint8
}

// UserSupplyAccountSize is the serialized length including the tag.
const UserSupplyAccountSize = TagSize + 32 + 32 + 8 + 1

// MarshalBinary encodes the record with its type tag.
func (u *UserSupplyAccount) MarshalBinary() ([]byte, error) {
	e := newEncoder(&TagUserSupplyAccount, UserSupplyAccountSize)
	e.key(u.Market)
	e.key(u.User)
	e.u64(u.CTokenBalance)
	e.u8(u.Bump)
	return e.buf, nil
}

// UnmarshalBinary decodes data, rejecting any other record type.
func (u *UserSupplyAccount) UnmarshalBinary(data []byte) error {
	d := newDecoder(data, &TagUserSupplyAccount, UserSupplyAccountSize)
	u.Market = d.key()
	u.User = d.key()
	u.CTokenBalance = d.u64()
	u.Bump = d.u8()
	return d.err
}

// SetAddress records the account address the record was loaded from.
func (u *UserSupplyAccount) SetAddress(a pubkey.PublicKey) { u.Address = a }

// UserSupplyPrefix is the data prefix shared by every position of market.
func UserSupplyPrefix(market pubkey.PublicKey) []byte {
	prefix := make([]byte, 0, TagSize+pubkey.Size)
	prefix = append(prefix, TagUserSupplyAccount[:]...)
	return append(prefix, market[:]...)
}

// RequestReceipt marks a processed request signature so it cannot be replayed.
type RequestReceipt struct {
	Slot uint64
}

// RequestReceiptSize is the serialized length including the tag.
const RequestReceiptSize = TagSize + 8

// MarshalBinary encodes the record with its type tag.
func (r *RequestReceipt) MarshalBinary() ([]byte, error) {
	e := newEncoder(&TagRequestReceipt, RequestReceiptSize)
	e.u64(r.Slot)
	return e.buf, nil
}
