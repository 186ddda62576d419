package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"solana-lending-lab/internal/audit"
	"solana-lending-lab/internal/guard"
	"solana-lending-lab/internal/ledger"
	"solana-lending-lab/internal/observability"
	"solana-lending-lab/internal/program"
	"solana-lending-lab/internal/pubkey"
	"solana-lending-lab/internal/solana"
	"solana-lending-lab/internal/storage"
	"solana-lending-lab/internal/token"
)

// DefaultEventLimit caps getEvents when no limit is given.
const DefaultEventLimit = 100

// MaxEventLimit is the largest accepted getEvents limit.
const MaxEventLimit = 1000

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      json.RawMessage  `json:"id"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *solana.RPCError `json:"error,omitempty"`
}

type method func(ctx context.Context, params []json.RawMessage) (interface{}, error)

// RPCHandler serves the JSON-RPC 2.0 endpoint. Single and batch requests
// are accepted.
type RPCHandler struct {
	processor *program.Processor
	ledger    *ledger.Ledger
	auditor   *audit.Auditor
	events    storage.EventStore
	logger    *log.Logger
	methods   map[string]method
}

// NewRPCHandler creates the handler. events may be nil, in which case
// getEvents is unavailable.
func NewRPCHandler(p *program.Processor, events storage.EventStore, logger *log.Logger) *RPCHandler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	h := &RPCHandler{
		processor: p,
		ledger:    p.Ledger(),
		auditor:   audit.New(p.ProgramID(), p.Ledger()),
		events:    events,
		logger:    logger,
	}
	h.methods = map[string]method{
		"getHealth":       h.getHealth,
		"getSlot":         h.getSlot,
		"getAccountInfo":  h.getAccountInfo,
		"getConfig":       h.getConfig,
		"getOracle":       h.getOracle,
		"getMarket":       h.getMarket,
		"getUserSupply":   h.getUserSupply,
		"getMint":         h.getMint,
		"getTokenAccount": h.getTokenAccount,
		"getEvents":       h.getEvents,
		"auditMarket":     h.auditMarket,
		"sendTransaction": h.sendTransaction,
	}
	return h
}

// ServeHTTP decodes one request or a batch and writes the response(s).
func (h *RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(h.logger, w, http.StatusRequestEntityTooLarge, errorResponse(nil,
				newRPCError(CodeInvalidRequest, "request body too large", ErrorData{Name: "TooLarge"})))
			return
		}
		writeJSON(h.logger, w, http.StatusBadRequest, errorResponse(nil,
			newRPCError(CodeParseError, "read body failed", ErrorData{Name: "ParseError"})))
		return
	}

	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var batch []rpcRequest
		if err := json.Unmarshal(body, &batch); err != nil {
			writeJSON(h.logger, w, http.StatusOK, errorResponse(nil,
				newRPCError(CodeParseError, "parse error", ErrorData{Name: "ParseError"})))
			return
		}
		if len(batch) == 0 {
			writeJSON(h.logger, w, http.StatusOK, errorResponse(nil,
				newRPCError(CodeInvalidRequest, "empty batch", ErrorData{Name: "InvalidRequest"})))
			return
		}
		out := make([]*rpcResponse, 0, len(batch))
		for i := range batch {
			out = append(out, h.handle(r.Context(), &batch[i]))
		}
		writeJSON(h.logger, w, http.StatusOK, out)
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(h.logger, w, http.StatusOK, errorResponse(nil,
			newRPCError(CodeParseError, "parse error", ErrorData{Name: "ParseError"})))
		return
	}
	writeJSON(h.logger, w, http.StatusOK, h.handle(r.Context(), &req))
}

func (h *RPCHandler) handle(ctx context.Context, req *rpcRequest) *rpcResponse {
	reqID := RequestID(ctx)
	if req.JSONRPC != "2.0" || req.Method == "" {
		observability.RecordAPIRequest("invalid", "error")
		return errorResponse(req.ID, newRPCError(CodeInvalidRequest, "invalid request",
			ErrorData{Name: "InvalidRequest", RequestID: reqID}))
	}
	m, ok := h.methods[req.Method]
	if !ok {
		observability.RecordAPIRequest("unknown", "error")
		return errorResponse(req.ID, newRPCError(CodeMethodNotFound, "method not found: "+req.Method,
			ErrorData{Name: "MethodNotFound", RequestID: reqID}))
	}

	var params []json.RawMessage
	if len(req.Params) > 0 && !bytes.Equal(req.Params, []byte("null")) {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			observability.RecordAPIRequest(req.Method, "error")
			return errorResponse(req.ID, invalidParams("params must be an array"))
		}
	}

	result, err := m(ctx, params)
	if err != nil {
		rpcErr := toRPCError(err, reqID)
		if rpcErr.Code == CodeInternalError {
			h.logger.Printf("%s %s: %v", req.Method, reqID, err)
		}
		observability.RecordAPIRequest(req.Method, "error")
		return errorResponse(req.ID, rpcErr)
	}

	data, err := json.Marshal(result)
	if err != nil {
		h.logger.Printf("%s %s: encode result: %v", req.Method, reqID, err)
		observability.RecordAPIRequest(req.Method, "error")
		return errorResponse(req.ID, toRPCError(err, reqID))
	}
	observability.RecordAPIRequest(req.Method, "ok")
	return &rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: data}
}

func errorResponse(id json.RawMessage, err *solana.RPCError) *rpcResponse {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &rpcResponse{JSONRPC: "2.0", ID: id, Error: err}
}

// writeJSON encodes v as the response body. The status line is already sent
// when encoding fails, so the failure is only logged.
func writeJSON(logger *log.Logger, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Printf("encode %d response: %v", status, err)
	}
}

// param decodes params[i] into dst. Optional params may be absent.
func param(params []json.RawMessage, i int, name string, dst interface{}, optional bool) error {
	if i >= len(params) || bytes.Equal(params[i], []byte("null")) {
		if optional {
			return nil
		}
		return invalidParams(fmt.Sprintf("missing param %d (%s)", i, name))
	}
	if err := json.Unmarshal(params[i], dst); err != nil {
		return invalidParams(fmt.Sprintf("invalid %s: %v", name, err))
	}
	return nil
}

func addressParam(params []json.RawMessage, i int, name string) (pubkey.PublicKey, error) {
	var pk pubkey.PublicKey
	err := param(params, i, name, &pk, false)
	return pk, err
}

func (h *RPCHandler) getHealth(context.Context, []json.RawMessage) (interface{}, error) {
	return "ok", nil
}

func (h *RPCHandler) getSlot(ctx context.Context, _ []json.RawMessage) (interface{}, error) {
	return h.ledger.Slot(ctx)
}

func (h *RPCHandler) getAccountInfo(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	address, err := addressParam(params, 0, "address")
	if err != nil {
		return nil, err
	}
	acc, err := h.ledger.Get(ctx, address)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return accountInfoView(acc), nil
}

func (h *RPCHandler) getConfig(ctx context.Context, _ []json.RawMessage) (interface{}, error) {
	cfg, err := guard.LoadConfig(ctx, h.ledger, h.processor.ProgramID())
	if err != nil {
		return nil, err
	}
	return configView(cfg), nil
}

func (h *RPCHandler) getOracle(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	address, err := addressParam(params, 0, "oracle")
	if err != nil {
		return nil, err
	}
	o, err := guard.LoadOracle(ctx, h.ledger, h.processor.ProgramID(), address)
	if err != nil {
		return nil, err
	}
	return oracleView(o), nil
}

func (h *RPCHandler) getMarket(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	address, err := addressParam(params, 0, "market")
	if err != nil {
		return nil, err
	}
	m, err := guard.LoadMarket(ctx, h.ledger, h.processor.ProgramID(), address)
	if err != nil {
		return nil, err
	}
	return marketView(m), nil
}

func (h *RPCHandler) getUserSupply(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	marketAddr, err := addressParam(params, 0, "market")
	if err != nil {
		return nil, err
	}
	user, err := addressParam(params, 1, "user")
	if err != nil {
		return nil, err
	}
	u, err := guard.LoadUserSupply(ctx, h.ledger, h.processor.ProgramID(), user, marketAddr)
	if err != nil {
		return nil, err
	}
	return userSupplyView(u), nil
}

func (h *RPCHandler) getMint(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	address, err := addressParam(params, 0, "mint")
	if err != nil {
		return nil, err
	}
	m, err := token.LoadMint(ctx, h.ledger, address)
	if err != nil {
		return nil, err
	}
	return mintView(m), nil
}

func (h *RPCHandler) getTokenAccount(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	address, err := addressParam(params, 0, "account")
	if err != nil {
		return nil, err
	}
	a, err := token.LoadAccount(ctx, h.ledger, address)
	if err != nil {
		return nil, err
	}
	m, err := token.LoadMint(ctx, h.ledger, a.Mint)
	if err != nil {
		return nil, err
	}
	return tokenAccountView(a, m), nil
}

func (h *RPCHandler) getEvents(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	if h.events == nil {
		return nil, newRPCError(CodeMethodNotFound, "event store not configured", ErrorData{Name: "MethodNotFound"})
	}
	address, err := addressParam(params, 0, "address")
	if err != nil {
		return nil, err
	}
	limit := DefaultEventLimit
	if err := param(params, 1, "limit", &limit, true); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxEventLimit {
		return nil, invalidParams(fmt.Sprintf("limit must be in [1, %d]", MaxEventLimit))
	}
	return h.events.GetByAccount(ctx, address.String(), limit)
}

func (h *RPCHandler) auditMarket(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	address, err := addressParam(params, 0, "market")
	if err != nil {
		return nil, err
	}
	return h.auditor.CheckMarket(ctx, address)
}

func (h *RPCHandler) sendTransaction(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	var req program.Request
	if err := param(params, 0, "request", &req, false); err != nil {
		return nil, err
	}
	return h.processor.Process(ctx, &req)
}
