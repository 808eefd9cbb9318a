// Package handlers provides HTTP handlers for the server.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/cartwatch/cartwatch/internal/event"
	"github.com/cartwatch/cartwatch/internal/webservice/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Response statuses.
const (
	StatusOK          = "ok"
	StatusJSONError   = "json_error"
	StatusConfigError = "config_error"
	StatusStoreError  = "storage_error"
	StatusRejected    = "rejected"
)

// Response is the JSON body answered to cart event requests.
type Response struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`

	// Email and RCLastCart are echoed on success, when the event has a value for them.
	Email      *string `json:"email,omitempty"`
	RCLastCart *string `json:"rclastcart,omitempty"`
}

// CartEvent is a handler receiving abandoned cart events and storing them.
type CartEvent struct {
	config      ConfigProvider
	store       Store
	events      *metrics.Events
	maxBodySize int64

	log *slog.Logger
}

type options struct {
	Logger *slog.Logger
}

// Options represents an optional function to override CartEvent default values.
type Options func(*options)

// NewCartEvent creates a new CartEvent handler.
// events may be nil.
func NewCartEvent(cfg ConfigProvider, store Store, events *metrics.Events, maxBodySize int64, args ...Options) *CartEvent {
	opts := options{
		Logger: slog.Default(),
	}
	for _, opt := range args {
		opt(&opts)
	}

	return &CartEvent{
		config:      cfg,
		store:       store,
		events:      events,
		maxBodySize: maxBodySize,
		log:         opts.Logger,
	}
}

// ServeHTTP handles incoming cart events.
func (h *CartEvent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()
	log := h.log.With("req_id", reqID)

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	log.Info("Request recv'd")

	// The payload is not read when events cannot be stored.
	if err := h.store.Ready(); err != nil {
		h.events.Observe(metrics.OutcomeConfigError)
		log.Error("Database is not available", "err", err)
		writeJSON(w, http.StatusInternalServerError, Response{Status: StatusConfigError, Detail: err.Error()})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.events.Observe(metrics.OutcomeRejected)
		code := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			code = http.StatusRequestEntityTooLarge
		}
		log.Warn("Failed to read request body", "err", err)
		writeJSON(w, code, Response{Status: StatusRejected, Detail: err.Error()})
		return
	}

	raw := string(body)
	log.Debug("Payload received", "payload", raw)

	record, err := h.config.Pipeline().Process(raw)
	if err != nil {
		h.events.Observe(metrics.OutcomeMalformed)
		detail := err.Error()
		var perr *event.MalformedPayloadError
		if errors.As(err, &perr) {
			detail = perr.Err.Error()
		}
		log.Warn("Malformed payload", "err", err)
		writeJSON(w, http.StatusBadRequest, Response{Status: StatusJSONError, Detail: detail})
		return
	}

	for _, a := range record.Anomalies {
		h.events.Anomaly(a.Field)
		log.Warn("Field could not be converted, storing it without value", "field", a.Field, "source", a.Source, "reason", a.Reason)
	}

	if err := h.store.Insert(r.Context(), &record); err != nil {
		h.events.Observe(metrics.OutcomeStorageError)
		log.Error("Failed to store cart event", "err", err)
		writeJSON(w, http.StatusInternalServerError, Response{Status: StatusStoreError, Detail: err.Error()})
		return
	}

	h.events.Observe(metrics.OutcomeStored)
	log.Info("Cart event stored", "anomalies", len(record.Anomalies))
	writeJSON(w, http.StatusOK, Response{
		Status:     StatusOK,
		Email:      textPtr(record.Email),
		RCLastCart: textPtr(record.RCLastCart),
	})
}

func writeJSON(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("Failed to write response", "err", err)
	}
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}
