package domain

// EventKind identifies a committed state transition.
type EventKind string

// Event kinds.
const (
	EventConfigInitialized EventKind = "config_initialized"
	EventAdminChanged      EventKind = "admin_changed"
	EventOracleCreated     EventKind = "oracle_created"
	EventOracleUpdated     EventKind = "oracle_updated"
	EventMarketCreated     EventKind = "market_created"
	EventSupplied          EventKind = "supplied"
	EventWithdrawn         EventKind = "withdrawn"
	EventMintCreated       EventKind = "mint_created"
	EventTokenAccountOpen  EventKind = "token_account_opened"
	EventMinted            EventKind = "minted"
)

// Event is an append-only record of a committed instruction.
// Corresponds to the ledger_events table in ClickHouse.
type Event struct {
	EventID     string    `json:"eventId"` // hex SHA256 of signature, index and kind
	Kind        EventKind `json:"kind"`
	Slot        uint64    `json:"slot"`              // slot the instruction committed in
	Signature   string    `json:"signature"`         // first request signature (base58)
	Actor       string    `json:"actor"`             // signing identity
	Market      string    `json:"market,omitempty"`  // market address
	Oracle      string    `json:"oracle,omitempty"`  // oracle address
	Account     string    `json:"account,omitempty"` // other affected account
	Amount      uint64    `json:"amount,omitempty"`  // token amount moved or minted
	Price       uint64    `json:"price,omitempty"`   // new oracle price
	TimestampMs int64     `json:"timestampMs"`       // Unix timestamp in milliseconds
}

// Touches reports whether address appears in any address field.
func (e *Event) Touches(address string) bool {
	return address != "" &&
		(e.Actor == address || e.Market == address || e.Oracle == address || e.Account == address)
}
