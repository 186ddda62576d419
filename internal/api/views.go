package api

import (
	"encoding/base64"
	"encoding/json"
	"math/big"

	"github.com/shopspring/decimal"

	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/pubkey"
)

// AccountInfo is the raw view of a ledger account.
type AccountInfo struct {
	Address pubkey.PublicKey `json:"address"`
	Owner   pubkey.PublicKey `json:"owner"`
	Data    [2]string        `json:"data"` // [payload, "base64"]
	Version uint64           `json:"version"`
}

func accountInfoView(acc *domain.Account) *AccountInfo {
	return &AccountInfo{
		Address: acc.Address,
		Owner:   acc.Owner,
		Data:    [2]string{base64.StdEncoding.EncodeToString(acc.Data), "base64"},
		Version: acc.Version,
	}
}

// Oracle is the view of a price feed. DisplayPrice is Price scaled by
// 10^Exponent.
type Oracle struct {
	Address         pubkey.PublicKey `json:"address"`
	Authority       pubkey.PublicKey `json:"authority"`
	Price           uint64           `json:"price"`
	Exponent        int8             `json:"exponent"`
	DisplayPrice    string           `json:"displayPrice"`
	LastUpdatedSlot uint64           `json:"lastUpdatedSlot"`
}

func oracleView(o *domain.PriceOracle) *Oracle {
	return &Oracle{
		Address:         o.Address,
		Authority:       o.Authority,
		Price:           o.Price,
		Exponent:        o.Exponent,
		DisplayPrice:    DisplayPrice(o.Price, o.Exponent),
		LastUpdatedSlot: o.LastUpdatedSlot,
	}
}

// DisplayPrice renders price * 10^exponent without float rounding.
func DisplayPrice(price uint64, exponent int8) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(price), int32(exponent)).String()
}

// Market is the view of a market record.
type Market struct {
	Address          pubkey.PublicKey `json:"address"`
	ID               uint64           `json:"id"`
	SupplyMint       pubkey.PublicKey `json:"supplyMint"`
	CollateralMint   pubkey.PublicKey `json:"collateralMint"`
	SupplyOracle     pubkey.PublicKey `json:"supplyOracle"`
	CollateralOracle pubkey.PublicKey `json:"collateralOracle"`
	Vault            pubkey.PublicKey `json:"vault"`
	Authority        pubkey.PublicKey `json:"authority"`
	TotalSupply      uint64           `json:"totalSupply"`
	TotalCollateral  uint64           `json:"totalCollateral"`
	AuthorityBump    uint8            `json:"authorityBump"`
}

func marketView(m *domain.Market) *Market {
	return &Market{
		Address:          m.Address,
		ID:               m.ID,
		SupplyMint:       m.SupplyMint,
		CollateralMint:   m.CollateralMint,
		SupplyOracle:     m.SupplyOracle,
		CollateralOracle: m.CollateralOracle,
		Vault:            m.Vault,
		Authority:        m.Authority,
		TotalSupply:      m.TotalSupply,
		TotalCollateral:  m.TotalCollateral,
		AuthorityBump:    m.AuthorityBump,
	}
}

// UserSupply is the view of a position.
type UserSupply struct {
	Address       pubkey.PublicKey `json:"address"`
	Market        pubkey.PublicKey `json:"market"`
	User          pubkey.PublicKey `json:"user"`
	CTokenBalance uint64           `json:"cTokenBalance"`
}

func userSupplyView(u *domain.UserSupplyAccount) *UserSupply {
	return &UserSupply{Address: u.Address, Market: u.Market, User: u.User, CTokenBalance: u.CTokenBalance}
}

// TokenAccount is the view of a token account.
type TokenAccount struct {
	Address  pubkey.PublicKey `json:"address"`
	Mint     pubkey.PublicKey `json:"mint"`
	Owner    pubkey.PublicKey `json:"owner"`
	Amount   uint64           `json:"amount"`
	UIAmount string           `json:"uiAmount"`
	Decimals uint8            `json:"decimals"`
}

func tokenAccountView(a *domain.TokenAccount, m *domain.Mint) *TokenAccount {
	return &TokenAccount{
		Address:  a.Address,
		Mint:     a.Mint,
		Owner:    a.Owner,
		Amount:   a.Amount,
		UIAmount: DisplayPrice(a.Amount, -int8(m.Decimals)),
		Decimals: m.Decimals,
	}
}

// Mint is the view of a mint.
type Mint struct {
	Address        pubkey.PublicKey `json:"address"`
	MintAuthority  pubkey.PublicKey `json:"mintAuthority"`
	Supply         uint64           `json:"supply"`
	Decimals       uint8            `json:"decimals"`
	TransferFeeBps uint16           `json:"transferFeeBps"`
}

func mintView(m *domain.Mint) *Mint {
	return &Mint{
		Address:        m.Address,
		MintAuthority:  m.MintAuthority,
		Supply:         m.Supply,
		Decimals:       m.Decimals,
		TransferFeeBps: m.TransferFeeBps,
	}
}

// Config is the view of the deployment config.
type Config struct {
	Address             pubkey.PublicKey `json:"address"`
	Admin               pubkey.PublicKey `json:"admin"`
	PermissionedMarkets bool             `json:"permissionedMarkets"`
}

func configView(c *domain.Config) *Config {
	return &Config{Address: c.Address, Admin: c.Admin, PermissionedMarkets: c.PermissionedMarkets}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
