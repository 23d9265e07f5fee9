package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"

	"github.com/shadowswap/engine/pkg/ledger"
	"github.com/shadowswap/engine/pkg/order"
)

// Server exposes the keeper's read-only view over REST and WebSocket.
// All state comes from the ledger; the server holds nothing the chain
// does not.
type Server struct {
	reader      ledger.Reader
	router      *mux.Router
	hub         *Hub
	priceSymbol string
	keeperAddr  common.Address
	assets      []common.Address // feed assets served by GET /prices

	// lastPushed mirrors the keeper's gate for /status.
	lastPushed func() (decimal.Decimal, bool)
}

// NewServer creates a new API server. lastPushed reports the keeper's
// last committed price push and may be nil.
func NewServer(reader ledger.Reader, priceSymbol string, keeperAddr common.Address, assets []common.Address, lastPushed func() (decimal.Decimal, bool)) *Server {
	s := &Server{
		reader:      reader,
		router:      mux.NewRouter(),
		hub:         NewHub(),
		priceSymbol: priceSymbol,
		keeperAddr:  keeperAddr,
		assets:      assets,
		lastPushed:  lastPushed,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")
	api.HandleFunc("/orders/pending", s.handleGetPendingOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/prices", s.handleGetPrices).Methods("GET")
	api.HandleFunc("/prices/{asset}", s.handleGetPrice).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router without CORS wrapping. Test hook.
func (s *Server) Handler() http.Handler { return s.router }

// Start starts the API server
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	batchID, err := s.reader.CurrentBatchID(ctx)
	if err != nil {
		respondError(w, http.StatusBadGateway, "ledger unavailable", err.Error())
		return
	}
	pending, err := s.reader.PendingOrderCount(ctx)
	if err != nil {
		respondError(w, http.StatusBadGateway, "ledger unavailable", err.Error())
		return
	}

	response := StatusInfo{
		BatchID:       batchID,
		PendingOrders: pending,
		KeeperAddress: s.keeperAddr.Hex(),
		PriceSymbol:   s.priceSymbol,
		Timestamp:     time.Now().UnixMilli(),
	}
	if s.lastPushed != nil {
		if price, ok := s.lastPushed(); ok {
			response.LastPushedPrice = price.String()
		}
	}

	respondJSON(w, response)
}

func (s *Server) handleGetPendingOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count, err := s.reader.PendingOrderCount(ctx)
	if err != nil {
		respondError(w, http.StatusBadGateway, "ledger unavailable", err.Error())
		return
	}

	orders := make([]OrderInfo, 0, count)
	for i := 0; i < count; i++ {
		id, err := s.reader.PendingOrderIDAt(ctx, i)
		if err != nil {
			// The pending set shifted under us; serve what we have.
			break
		}
		details, err := s.reader.GetOrderDetails(ctx, id)
		if err != nil {
			continue
		}
		orders = append(orders, orderInfo(id, details))
	}

	respondJSON(w, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]

	b := common.FromHex(idStr)
	if len(b) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid order id", "expected 32-byte hex id")
		return
	}

	details, err := s.reader.GetOrderDetails(r.Context(), common.BytesToHash(b))
	if err != nil {
		respondError(w, http.StatusNotFound, "order not found", err.Error())
		return
	}

	respondJSON(w, orderInfo(common.BytesToHash(b), details))
}

func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UnixMilli()

	prices := make([]PriceInfo, 0, len(s.assets))
	for _, asset := range s.assets {
		price, err := s.reader.CurrentPrice(ctx, asset)
		if err != nil {
			respondError(w, http.StatusBadGateway, "ledger unavailable", err.Error())
			return
		}
		prices = append(prices, PriceInfo{
			Asset:     asset.Hex(),
			Price:     ledger.FromWad(price).String(),
			Timestamp: now,
		})
	}

	respondJSON(w, prices)
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	assetStr := mux.Vars(r)["asset"]

	if !common.IsHexAddress(assetStr) {
		respondError(w, http.StatusBadRequest, "invalid asset address", "")
		return
	}

	price, err := s.reader.CurrentPrice(r.Context(), common.HexToAddress(assetStr))
	if err != nil {
		respondError(w, http.StatusBadGateway, "ledger unavailable", err.Error())
		return
	}

	respondJSON(w, PriceInfo{
		Asset:     common.HexToAddress(assetStr).Hex(),
		Price:     ledger.FromWad(price).String(),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called from the keeper)
// ==============================

// BroadcastPriceUpdate pushes a confirmed price push to "prices"
// subscribers.
func (s *Server) BroadcastPriceUpdate(price decimal.Decimal, receipt ledger.Receipt) {
	s.hub.BroadcastToChannel("prices", PriceUpdate{
		Type:      "price",
		Symbol:    s.priceSymbol,
		Price:     price.String(),
		TxHash:    receipt.TxHash.Hex(),
		Block:     receipt.BlockNumber,
		Timestamp: time.Now().UnixMilli(),
	})
}

// BroadcastExecution pushes a confirmed limit-order execution to
// "executions" subscribers.
func (s *Server) BroadcastExecution(id order.ID, receipt ledger.Receipt) {
	s.hub.BroadcastToChannel("executions", ExecutionUpdate{
		Type:      "execution",
		OrderID:   id.Hex(),
		TxHash:    receipt.TxHash.Hex(),
		Block:     receipt.BlockNumber,
		Timestamp: time.Now().UnixMilli(),
	})
}

// ==============================
// Helper Functions
// ==============================

func orderInfo(id order.ID, d ledger.OrderDetails) OrderInfo {
	info := OrderInfo{
		ID:        id.Hex(),
		Type:      order.Market.String(),
		Status:    d.Status.String(),
		TokenIn:   d.TokenIn.Hex(),
		TokenOut:  d.TokenOut.Hex(),
		AmountIn:  ledger.FromWad(d.AmountIn).String(),
		Expiry:    d.Expiry,
		BatchID:   d.BatchID,
		Timestamp: d.Timestamp,
	}
	if d.IsLimit() {
		info.Type = order.Limit.String()
		info.LimitPrice = ledger.FromWad(d.LimitPrice).String()
	}
	return info
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
