package guard

import "errors"

// Protocol errors shared by every component.
var (
	// ErrUnauthorized is returned when the identity bound to a record did not sign.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAddressMismatch is returned when a presented account does not re-derive
	// to the canonical address of its identity fields.
	ErrAddressMismatch = errors.New("address mismatch")

	// ErrInvalidVault is returned when a vault is not a token account owned by
	// the market's derived signing identity.
	ErrInvalidVault = errors.New("invalid vault")

	// ErrMarketAlreadyExists is returned when the market identity is taken.
	ErrMarketAlreadyExists = errors.New("market already exists")

	// ErrInvalidSignerSeeds is returned when custody signing material does not
	// reproduce the market authority.
	ErrInvalidSignerSeeds = errors.New("invalid signer seeds")

	// ErrInsufficientBalance is returned when a withdrawal exceeds the claim balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientVaultBalance is returned when the vault cannot cover a withdrawal.
	ErrInsufficientVaultBalance = errors.New("insufficient vault balance")

	// ErrTransferUnverified is returned when the measured inbound amount differs
	// from the requested amount.
	ErrTransferUnverified = errors.New("transfer unverified")

	// ErrVaultMintMismatch is returned when the vault holds a different mint
	// than the market's supply mint.
	ErrVaultMintMismatch = errors.New("vault mint mismatch")

	// ErrInvalidPrice is returned for a zero oracle price.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrInvalidOracle is returned when a referenced account is not a price oracle.
	ErrInvalidOracle = errors.New("invalid oracle")

	// ErrConfigAlreadyInitialized is returned on a second initialize.
	ErrConfigAlreadyInitialized = errors.New("config already initialized")

	// ErrConfigNotInitialized is returned when the deployment config is missing.
	ErrConfigNotInitialized = errors.New("config not initialized")

	// ErrAccountTypeMismatch is returned when an account is not owned by the
	// program or carries another record's type tag.
	ErrAccountTypeMismatch = errors.New("account type mismatch")

	// ErrAccountNotInitialized is returned when a required record is absent.
	ErrAccountNotInitialized = errors.New("account not initialized")

	// ErrInvalidAmount is returned for zero amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrMathOverflow is returned when a balance or total would overflow.
	ErrMathOverflow = errors.New("math overflow")

	// ErrDuplicateRequest is returned when a signed request is replayed.
	ErrDuplicateRequest = errors.New("duplicate request")
)
