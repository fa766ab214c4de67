package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/gorilla/mux"

	"github.com/reservoir-labs/bme/internal/keeper"
	"github.com/reservoir-labs/bme/internal/logger"
	"github.com/reservoir-labs/bme/internal/state"
	"github.com/reservoir-labs/bme/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer handles HTTP requests for engine data and user operations
type WebServer struct {
	router *mux.Router
	port   string
	keeper *keeper.Keeper
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, k *keeper.Keeper) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		port:   port,
		keeper: k,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/basket", ws.handleGetBasket).Methods("GET")
	api.HandleFunc("/supply", ws.handleGetSupply).Methods("GET")
	api.HandleFunc("/trades", ws.handleGetTrades).Methods("GET")
	api.HandleFunc("/receipts", ws.handleGetReceipts).Methods("GET")
	api.HandleFunc("/cycles", ws.handleGetCycles).Methods("GET")
	api.HandleFunc("/throttles", ws.handleGetThrottles).Methods("GET")
	api.HandleFunc("/prices", ws.handleSetPrice).Methods("POST")
	api.HandleFunc("/issue", ws.handleIssue).Methods("POST")
	api.HandleFunc("/redeem", ws.handleRedeem).Methods("POST")
	api.HandleFunc("/trades/{sell}/bid", ws.handleBid).Methods("POST")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
	}

	status := "OK"
	statusCode := http.StatusOK
	if !dbHealthy {
		status = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":      status,
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"db_healthy":  dbHealthy,
		"cycle_count": ws.keeper.CycleCount(),
	}
	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetBasket returns the current basket composition and status
func (ws *WebServer) handleGetBasket(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, ws.keeper.Basket(time.Now()))
}

// handleGetSupply returns supply, collateralization, and throttle headroom
func (ws *WebServer) handleGetSupply(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, ws.keeper.Supply(time.Now()))
}

// handleGetTrades returns the currently open trades
func (ws *WebServer) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"trades": ws.keeper.Trades(time.Now()),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetReceipts returns settled trade receipts from this process
func (ws *WebServer) handleGetReceipts(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"receipts": ws.keeper.Receipts(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetCycles returns recent persisted cycle snapshots
func (ws *WebServer) handleGetCycles(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	cycles, err := state.LoadRecentCycleSnapshots(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to retrieve cycles")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve cycles")
		return
	}

	response := map[string]interface{}{
		"cycles": cycles,
		"count":  len(cycles),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetThrottles returns the supply throttle headroom
func (ws *WebServer) handleGetThrottles(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, ws.keeper.Throttles(time.Now()))
}

// priceRequest carries one oracle observation: a USD price per whole token,
// and optionally a reference-per-token rate for interest-bearing assets.
type priceRequest struct {
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	RefPerTok string `json:"ref_per_tok,omitempty"`
}

// handleSetPrice ingests an oracle observation for an asset
func (ws *WebServer) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Asset == "" || req.Price == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Asset and price are required")
		return
	}

	price, err := sdkmath.LegacyNewDecFromStr(req.Price)
	if err != nil || !price.IsPositive() {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Price must be a positive decimal")
		return
	}
	ws.keeper.SetPrice(types.AssetID(req.Asset), price, time.Now())

	if req.RefPerTok != "" {
		ratio, rerr := sdkmath.LegacyNewDecFromStr(req.RefPerTok)
		if rerr != nil || !ratio.IsPositive() {
			ws.writeErrorResponse(w, http.StatusBadRequest, "RefPerTok must be a positive decimal")
			return
		}
		ws.keeper.SetRefPerTok(types.AssetID(req.Asset), ratio)
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"asset": req.Asset})
}

type issueRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"` // base units
}

// handleIssue mints tokens to the requesting account
func (ws *WebServer) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	amount, ok := sdkmath.NewIntFromString(req.Amount)
	if !ok || req.Account == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Account and integer amount are required")
		return
	}

	if err := ws.keeper.Issue(time.Now(), types.AccountID(req.Account), amount); err != nil {
		ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"issued": req.Amount})
}

// handleRedeem burns tokens from the requesting account
func (ws *WebServer) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	amount, ok := sdkmath.NewIntFromString(req.Amount)
	if !ok || req.Account == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Account and integer amount are required")
		return
	}

	if err := ws.keeper.Redeem(time.Now(), types.AccountID(req.Account), amount); err != nil {
		ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"redeemed": req.Amount})
}

type bidRequest struct {
	Bidder string `json:"bidder"`
}

// handleBid fills the open dutch trade for a sell asset
func (ws *WebServer) handleBid(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sell := types.AssetID(vars["sell"])

	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Bidder == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Bidder is required")
		return
	}

	paid, err := ws.keeper.BidDutch(time.Now(), sell, types.AccountID(req.Bidder))
	if err != nil {
		ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"sell": string(sell),
		"paid": paid.String(),
	})
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseWriterWrapper captures the status code for logging
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rww *responseWriterWrapper) WriteHeader(code int) {
	rww.statusCode = code
	rww.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
