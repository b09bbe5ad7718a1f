package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/erain9/bazaarbook/pkg/core"
	"github.com/erain9/bazaarbook/pkg/logging"
)

const maxBatchItems = 500

var (
	// ErrMissingParameter is returned for requests lacking a required query parameter
	ErrMissingParameter = errors.New("missing parameter")
	// ErrBatchTooLarge is returned when a batch lookup names too many items
	ErrBatchTooLarge = errors.New("too many items in batch")
)

// HTTPOrderBookService exposes an OrderBookService over JSON/HTTP
type HTTPOrderBookService struct {
	service *OrderBookService
}

// NewHTTPOrderBookService creates the HTTP handlers for service
func NewHTTPOrderBookService(service *OrderBookService) *HTTPOrderBookService {
	return &HTTPOrderBookService{service: service}
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status string `json:"status"`
	ManagerStats
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	return nil
}

// GetOrderBook handles GET /orderbook/{itemTag}
func (h *HTTPOrderBookService) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	itemTag := r.PathValue("itemTag")
	if itemTag == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: itemTag", ErrMissingParameter))
		return
	}
	writeJSON(w, http.StatusOK, h.service.GetOrderBook(itemTag))
}

// GetOrderBooks handles POST /orderbook/batch with a JSON array of item tags
func (h *HTTPOrderBookService) GetOrderBooks(w http.ResponseWriter, r *http.Request) {
	var tags []string
	if err := decodeBody(r, &tags); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(tags) > maxBatchItems {
		writeError(w, http.StatusBadRequest, ErrBatchTooLarge)
		return
	}
	writeJSON(w, http.StatusOK, h.service.GetOrderBooks(tags))
}

// AddOrder handles POST /orderbook
func (h *HTTPOrderBookService) AddOrder(w http.ResponseWriter, r *http.Request) {
	var order core.Order
	if err := decodeBody(r, &order); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if order.ItemID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: itemId", ErrMissingParameter))
		return
	}
	h.service.AddOrder(r.Context(), &order)
	w.WriteHeader(http.StatusOK)
}

// RemoveOrder handles DELETE /orderbook?itemTag=&userId=&timestamp=
func (h *HTTPOrderBookService) RemoveOrder(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	for _, name := range []string{"itemTag", "userId", "timestamp"} {
		if q.Get(name) == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %s", ErrMissingParameter, name))
			return
		}
	}
	ts, err := time.Parse(time.RFC3339Nano, q.Get("timestamp"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: timestamp: %v", core.ErrInvalidArgument, err))
		return
	}
	h.service.RemoveOrder(r.Context(), q.Get("itemTag"), q.Get("userId"), ts)
	w.WriteHeader(http.StatusOK)
}

// UpdateOrderBook handles POST /orderbook/update and answers whether the
// update was applied
func (h *HTTPOrderBookService) UpdateOrderBook(w http.ResponseWriter, r *http.Request) {
	var update core.OrderBookUpdate
	if err := decodeBody(r, &update); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if update.ItemTag == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: itemTag", ErrMissingParameter))
		return
	}
	writeJSON(w, http.StatusOK, h.service.UpdateOrderBook(r.Context(), &update))
}

// BazaarPull handles POST /bazaar/pull for feeds that do not go through Kafka
func (h *HTTPOrderBookService) BazaarPull(w http.ResponseWriter, r *http.Request) {
	var pull core.BazaarPull
	if err := decodeBody(r, &pull); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	logger := logging.FromContext(r.Context())
	logger.Debug().Int("products", len(pull.Products)).Msg("Received bazaar pull")
	h.service.BazaarPull(r.Context(), &pull)
	w.WriteHeader(http.StatusAccepted)
}

// Health handles GET /healthz
func (h *HTTPOrderBookService) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", ManagerStats: h.service.Manager().Stats()})
}
