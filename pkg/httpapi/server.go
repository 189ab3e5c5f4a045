// Package httpapi exposes the ledger operations as a JSON API.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	chimiddleware "github.com/go-chi/chi/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bookstore/pkg/ledger"
)

// callerHeader carries the identity of the party making the call. Catalog
// mutation requires it to match the owner; purchases accept any identity.
const callerHeader = "X-Caller-ID"

// Server wires HTTP endpoints to the serialized ledger service.
type Server struct {
	ledger *ledger.Service
	logger *zap.Logger
}

// New builds the HTTP layer around an open ledger.
func New(ledgerService *ledger.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		ledger: ledgerService,
		logger: logger,
	}
}

// Handler returns the chi router with every ledger operation mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.StripSlashes)

	r.Get("/api/items", s.listItems)
	r.Get("/api/items/{itemID}", s.getItem)
	r.Post("/api/items", s.addItem)
	r.Put("/api/items/{itemID}", s.updateItem)
	r.Post("/api/items/{itemID}/purchase", s.purchase)
	r.Get("/api/owner", s.owner)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}

// addItem registers a new catalog entry on behalf of the calling identity.
func (s *Server) addItem(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}

	var payload struct {
		Title string `json:"title"`
		Price uint64 `json:"price"`
		Stock uint64 `json:"stock"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.logger.Warn("add item rejected: invalid payload", zap.Error(err))
		s.respondError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	item, err := s.ledger.AddItem(r.Context(), caller, payload.Title, payload.Price, payload.Stock)
	if err != nil {
		s.respondLedgerError(w, "add item", err)
		return
	}

	s.logger.Info("item added",
		zap.Uint64("item_id", item.ID),
		zap.String("title", item.Title),
		zap.Uint64("stock", item.Stock),
	)
	s.respondJSON(w, http.StatusCreated, item)
}

// updateItem overwrites an existing entry wholesale.
func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}

	var payload struct {
		Title string `json:"title"`
		Price uint64 `json:"price"`
		Stock uint64 `json:"stock"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.logger.Warn("update item rejected: invalid payload", zap.Error(err))
		s.respondError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if err := s.ledger.UpdateItem(r.Context(), caller, id, payload.Title, payload.Price, payload.Stock); err != nil {
		s.respondLedgerError(w, "update item", err)
		return
	}

	s.logger.Info("item updated", zap.Uint64("item_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// purchase settles the sale of one unit to the calling identity.
func (s *Server) purchase(w http.ResponseWriter, r *http.Request) {
	buyer, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}

	var payload struct {
		Quantity uint64 `json:"quantity"`
		Payment  uint64 `json:"payment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.logger.Warn("purchase rejected: invalid payload", zap.Error(err))
		s.respondError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	item, err := s.ledger.Purchase(r.Context(), buyer, id, payload.Quantity, payload.Payment)
	if err != nil {
		s.respondLedgerError(w, "purchase", err)
		return
	}

	s.logger.Info("purchase settled",
		zap.Uint64("item_id", id),
		zap.String("buyer", buyer.String()),
		zap.Uint64("payment", payload.Payment),
		zap.Uint64("stock_left", item.Stock),
	)
	s.respondJSON(w, http.StatusOK, item)
}

// getItem returns a single catalog entry.
func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}
	item, err := s.ledger.GetItem(r.Context(), id)
	if err != nil {
		s.respondLedgerError(w, "get item", err)
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

// listItems returns the whole catalog in id order.
func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.ledger.ListItems(r.Context())
	if err != nil {
		s.respondLedgerError(w, "list items", err)
		return
	}
	if items == nil {
		items = []ledger.Item{}
	}
	s.respondJSON(w, http.StatusOK, items)
}

// owner reports the privileged identity and its accumulated balance. The
// balance travels as a decimal string because it can outgrow a JSON number.
func (s *Server) owner(w http.ResponseWriter, r *http.Request) {
	balance, err := s.ledger.Balance(r.Context())
	if err != nil {
		s.respondLedgerError(w, "owner", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"owner":   s.ledger.Owner().String(),
		"balance": balance.String(),
	})
}

// caller extracts the identity header, writing the error response itself when
// the header is missing or malformed.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get(callerHeader)
	if raw == "" {
		s.respondError(w, "caller identity is required", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		s.respondError(w, "invalid caller identity", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// itemID parses the {itemID} URL parameter.
func (s *Server) itemID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "itemID")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.respondError(w, "invalid item id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// respondLedgerError maps each ledger failure to its own status code so
// clients can branch on cause.
func (s *Server) respondLedgerError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrOutOfStock):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientPayment):
		status = http.StatusPaymentRequired
	case ledger.IsValidation(err):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Info(op+" rejected", zap.Error(err), zap.Int("status", status))
	}
	s.respondError(w, err.Error(), status)
}

// respondError keeps the JSON error envelope consistent across endpoints.
func (s *Server) respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// respondJSON writes a success payload.
func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
