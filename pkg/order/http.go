package order

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ressKim-io/goeats/pkg/apperr"
	"github.com/ressKim-io/goeats/pkg/log"
	"github.com/ressKim-io/goeats/pkg/metrics"
	"github.com/ressKim-io/goeats/pkg/notify"
	"github.com/ressKim-io/goeats/pkg/ratelimit"
	"github.com/ressKim-io/goeats/pkg/resilience"
	"github.com/ressKim-io/goeats/pkg/types"
)

// orderResponse is the order body returned by the API.
type orderResponse struct {
	ID            string             `json:"id"`
	UserID        int64              `json:"userId"`
	StoreID       int64              `json:"storeId"`
	Items         []types.OrderItem  `json:"items"`
	TotalAmount   int64              `json:"totalAmount"`
	Status        types.OrderStatus  `json:"status"`
	Address       string             `json:"address"`
	PaymentMethod string             `json:"paymentMethod"`
	CreatedAt     time.Time          `json:"createdAt"`
}

func toOrderResponse(o *types.Order) orderResponse {
	items := o.Items
	if items == nil {
		items = []types.OrderItem{}
	}
	return orderResponse{
		ID:            o.ID,
		UserID:        o.UserID,
		StoreID:       o.StoreID,
		Items:         items,
		TotalAmount:   o.TotalAmount,
		Status:        o.Status,
		Address:       o.Address,
		PaymentMethod: o.PaymentMethod,
		CreatedAt:     o.CreatedAt,
	}
}

// queuedResponse is returned with 200 when the admission queue held
// the order.
type queuedResponse struct {
	Order         orderResponse `json:"order"`
	Queued        bool          `json:"queued"`
	Rank          int64         `json:"rank"`
	QueueSize     int64         `json:"queueSize"`
	EstimatedWait int64         `json:"estimatedWaitMs"`
}

// NewHandler builds the ingress handler: rate limiter → trusted caller
// identity → routes. The edge gateway has already validated the bearer
// token and propagates X-User-Id; this service trusts that header on
// the internal network and never re-verifies the token.
func NewHandler(svc *Service, notifier *notify.Notifier, limiter *ratelimit.Limiter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /orders", withUser(svc.handleCreate))
	mux.HandleFunc("GET /orders/queue/status", svc.handleQueueStatus)
	mux.HandleFunc("GET /orders/events", notifier.Handler())
	mux.HandleFunc("GET /orders/{id}", svc.handleGet)
	mux.HandleFunc("POST /orders/{id}/cancel", withUser(svc.handleCancel))

	mux.HandleFunc("GET /healthz", metrics.HealthHandler())
	mux.HandleFunc("GET /readyz", metrics.ReadyHandler())

	return limiter.Middleware(instrument(mux))
}

// withUser extracts the trusted caller identity.
func withUser(next func(w http.ResponseWriter, r *http.Request, userID int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.Header.Get("X-User-Id"), 10, 64)
		if err != nil || userID <= 0 {
			apperr.WriteProblem(w, apperr.InvalidInput("missing or invalid X-User-Id"))
			return
		}
		next(w, r, userID)
	}
}

func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request, userID int64) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteProblem(w, apperr.InvalidInput("malformed JSON body"))
		return
	}

	result, err := s.CreateOrder(r.Context(), userID, &req, r.Header.Get("Idempotency-Key"))
	if err != nil {
		writeError(w, err)
		return
	}

	if result.Queued && result.Status != nil {
		writeJSON(w, http.StatusOK, queuedResponse{
			Order:         toOrderResponse(result.Order),
			Queued:        true,
			Rank:          result.Status.Rank,
			QueueSize:     result.Status.Size,
			EstimatedWait: result.Status.EstimatedWait.Milliseconds(),
		})
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(result.Order))
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	order, err := s.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (s *Service) handleCancel(w http.ResponseWriter, r *http.Request, userID int64) {
	if err := s.CancelOrder(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		apperr.WriteProblem(w, apperr.InvalidInput("orderId query parameter is required"))
		return
	}
	st, err := s.QueueStatus(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps envelope sentinels onto the taxonomy before writing
// problem details.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		err = apperr.Wrap(apperr.KindCircuitBreakerOpen, "downstream unavailable", err)
	case errors.Is(err, resilience.ErrBulkheadFull):
		err = apperr.Wrap(apperr.KindBulkheadFull, "concurrency limit reached", err)
	case errors.Is(err, context.DeadlineExceeded):
		err = apperr.Wrap(apperr.KindRequestTimeout, "deadline elapsed", err)
	}
	apperr.WriteProblem(w, err)
}

// instrument records request counts and latencies.
func instrument(next http.Handler) http.Handler {
	logger := log.WithComponent("http")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", timer.Duration()).
			Msg("Request handled")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack keeps the websocket upgrade working through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
