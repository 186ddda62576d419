package api

import (
	"errors"

	"solana-lending-lab/internal/audit"
	"solana-lending-lab/internal/guard"
	"solana-lending-lab/internal/ledger"
	"solana-lending-lab/internal/program"
	"solana-lending-lab/internal/solana"
	"solana-lending-lab/internal/token"
)

// JSON-RPC 2.0 reserved codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request-level codes, in the server error range.
const (
	CodeSignatureVerification = -32003
	CodeConflict              = -32010
	CodeAccountExists         = -32011
	CodeAccountNotFound       = -32012
	CodeIllegalOwner          = -32013
	CodeAuditUnstable         = -32014
)

// ErrorData is attached to every domain error.
type ErrorData struct {
	Name      string `json:"name"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"requestId,omitempty"`
}

type errorCode struct {
	err       error
	code      int
	name      string
	retryable bool
}

// errorCodes is matched in order; the first sentinel found in the chain wins.
// Program codes start at 6000 like on-chain custom program errors.
var errorCodes = []errorCode{
	{ledger.ErrConflict, CodeConflict, "Conflict", true},
	{program.ErrNoSignatures, CodeSignatureVerification, "NoSignatures", false},
	{program.ErrInvalidSignature, CodeSignatureVerification, "InvalidSignature", false},
	{program.ErrMalformedInstruction, CodeInvalidParams, "MalformedInstruction", false},
	{audit.ErrUnstable, CodeAuditUnstable, "AuditUnstable", true},

	{guard.ErrUnauthorized, 6000, "Unauthorized", false},
	{guard.ErrAddressMismatch, 6001, "AddressMismatch", false},
	{guard.ErrInvalidVault, 6002, "InvalidVault", false},
	{guard.ErrMarketAlreadyExists, 6003, "MarketAlreadyExists", false},
	{guard.ErrInvalidSignerSeeds, 6004, "InvalidSignerSeeds", false},
	{guard.ErrInsufficientBalance, 6005, "InsufficientBalance", false},
	{guard.ErrInsufficientVaultBalance, 6006, "InsufficientVaultBalance", false},
	{guard.ErrTransferUnverified, 6007, "TransferUnverified", false},
	{guard.ErrVaultMintMismatch, 6008, "VaultMintMismatch", false},
	{guard.ErrInvalidPrice, 6009, "InvalidPrice", false},
	{guard.ErrInvalidOracle, 6010, "InvalidOracle", false},
	{guard.ErrConfigAlreadyInitialized, 6011, "ConfigAlreadyInitialized", false},
	{guard.ErrConfigNotInitialized, 6012, "ConfigNotInitialized", false},
	{guard.ErrAccountTypeMismatch, 6013, "AccountTypeMismatch", false},
	{guard.ErrAccountNotInitialized, 6014, "AccountNotInitialized", false},
	{guard.ErrInvalidAmount, 6015, "InvalidAmount", false},
	{guard.ErrMathOverflow, 6016, "MathOverflow", false},
	{guard.ErrDuplicateRequest, 6017, "DuplicateRequest", false},

	{token.ErrInsufficientFunds, 7000, "TokenInsufficientFunds", false},
	{token.ErrMintMismatch, 7001, "TokenMintMismatch", false},
	{token.ErrOwnerMismatch, 7002, "TokenOwnerMismatch", false},
	{token.ErrMissingRequiredSignature, 7003, "TokenMissingRequiredSignature", false},
	{token.ErrInvalidAccountData, 7004, "TokenInvalidAccountData", false},
	{token.ErrInvalidAmount, 7005, "TokenInvalidAmount", false},
	{token.ErrInvalidFee, 7006, "TokenInvalidFee", false},
	{token.ErrOverflow, 7007, "TokenOverflow", false},

	{ledger.ErrAccountExists, CodeAccountExists, "AccountExists", false},
	{ledger.ErrAccountNotFound, CodeAccountNotFound, "AccountNotFound", false},
	{ledger.ErrIllegalOwner, CodeIllegalOwner, "IllegalOwner", false},
}

// toRPCError maps err to a JSON-RPC error object. Unknown errors become
// internal errors without exposing their text.
func toRPCError(err error, requestID string) *solana.RPCError {
	var rpcErr *solana.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return newRPCError(ec.code, err.Error(), ErrorData{Name: ec.name, Retryable: ec.retryable, RequestID: requestID})
		}
	}
	return newRPCError(CodeInternalError, "internal error", ErrorData{Name: "Internal", RequestID: requestID})
}

func newRPCError(code int, message string, data ErrorData) *solana.RPCError {
	e := &solana.RPCError{Code: code, Message: message}
	e.Data = mustJSON(data)
	return e
}

// invalidParams builds a -32602 error.
func invalidParams(message string) *solana.RPCError {
	return newRPCError(CodeInvalidParams, message, ErrorData{Name: "InvalidParams"})
}
