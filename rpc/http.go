// Package rpc exposes the risk engines over a JSON-RPC 2.0 endpoint with
// Prometheus metrics and a health probe on the side.
package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ncommon "riskcore/native/common"
	"riskcore/native/market"
	"riskcore/native/oracle"
)

const jsonRPCVersion = "2.0"

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	// codeDegradedPrice distinguishes oracle degradation from genuine
	// solvency failures so operators do not chase phantom insolvencies.
	codeDegradedPrice = -32010
	codeModulePaused  = -32011
)

// Server dispatches JSON-RPC methods onto the market manager and price
// router. Mutating and admin methods require a bearer token; queries do not.
type Server struct {
	log    *slog.Logger
	mgr    *market.MarketManager
	router *oracle.Router
	tokens map[string]struct{}
}

func NewServer(mgr *market.MarketManager, router *oracle.Router, apiTokens []string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	tokens := make(map[string]struct{}, len(apiTokens))
	for _, token := range apiTokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			tokens[trimmed] = struct{}{}
		}
	}
	return &Server{
		log:    log.With("component", "rpc"),
		mgr:    mgr,
		router: router,
		tokens: tokens,
	}
}

// Handler builds the HTTP mux: the JSON-RPC endpoint at /, liveness at
// /healthz, and the Prometheus registry at /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

type rpcHandler struct {
	fn         func(w http.ResponseWriter, req *RPCRequest)
	privileged bool
}

func (s *Server) handlers() map[string]rpcHandler {
	return map[string]rpcHandler{
		"risk_statusOf":                {fn: s.handleStatusOf},
		"risk_hypotheticalLiquidityOf": {fn: s.handleHypotheticalLiquidity},
		"risk_solvencyOf":              {fn: s.handleSolvencyOf},
		"risk_liquidationStatusOf":     {fn: s.handleLiquidationStatusOf},
		"risk_canLiquidate":            {fn: s.handleCanLiquidate},
		"risk_badDebtTermsOf":          {fn: s.handleBadDebtTermsOf},
		"oracle_getPrice":              {fn: s.handleGetPrice},
		"oracle_feedsOf":               {fn: s.handleFeedsOf},
		"risk_postCollateral":          {fn: s.handlePostCollateral, privileged: true},
		"risk_removeCollateral":        {fn: s.handleRemoveCollateral, privileged: true},
		"risk_liquidate":               {fn: s.handleLiquidate, privileged: true},
		"risk_liquidateAccount":        {fn: s.handleLiquidateAccount, privileged: true},
		"oracle_addFeed":               {fn: s.handleAddFeed, privileged: true},
		"oracle_removeFeed":            {fn: s.handleRemoveFeed, privileged: true},
		"oracle_replaceFeed":           {fn: s.handleReplaceFeed, privileged: true},
		"oracle_setThresholds":         {fn: s.handleSetThresholds, privileged: true},
		"market_setPaused":             {fn: s.handleSetPaused, privileged: true},
		"market_updateAssetConfig":     {fn: s.handleUpdateAssetConfig, privileged: true},
		"market_syncAccount":           {fn: s.handleSyncAccount, privileged: true},
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	handler, ok := s.handlers()[method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", method)
		return
	}
	if handler.privileged && !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "bearer token required", nil)
		return
	}
	handler.fn(w, &req)
}

func (s *Server) authorized(r *http.Request) bool {
	if len(s.tokens) == 0 {
		return false
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	_, ok := s.tokens[strings.TrimSpace(header[len(prefix):])]
	return ok
}

// writeEngineError maps engine sentinel errors to stable RPC codes.
func (s *Server) writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, oracle.ErrDegradedPrice):
		var degraded *oracle.DegradedPriceError
		detail := interface{}(err.Error())
		if errors.As(err, &degraded) {
			detail = map[string]string{"asset": degraded.Asset.Hex(), "code": degraded.Code.String()}
		}
		writeError(w, http.StatusOK, id, codeDegradedPrice, "price degraded", detail)
	case errors.Is(err, ncommon.ErrModulePaused):
		writeError(w, http.StatusOK, id, codeModulePaused, "module paused", nil)
	case errors.Is(err, market.ErrAssetNotListed),
		errors.Is(err, market.ErrNotCollateralToken),
		errors.Is(err, market.ErrNotDebtToken),
		errors.Is(err, market.ErrInvalidAmount),
		errors.Is(err, market.ErrExceedsMaxRepay),
		errors.Is(err, market.ErrExceedsCollateral),
		errors.Is(err, market.ErrPositionNotFound),
		errors.Is(err, market.ErrTokenNotRegistered):
		writeError(w, http.StatusOK, id, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusOK, id, codeServerError, err.Error(), nil)
	}
}
