package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/tradewatch/service/classifier"
	"github.com/brojonat/tradewatch/service/db"
	"github.com/brojonat/tradewatch/service/symbols"
	"github.com/brojonat/tradewatch/service/temporal"
)

const (
	maxSignatureLength = 100 // base58 signatures are 87-88 chars, give buffer
	maxSymbolLength    = 32
	defaultListLimit   = 100
	maxListLimit       = 1000
)

var (
	// Valid base58 characters (no 0, O, I, l)
	validBase58Regex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
	validSymbolRegex = regexp.MustCompile(`^[A-Za-z0-9\-]+$`)
)

// eventResponse is the JSON response format for a stored event.
type eventResponse struct {
	Signature string              `json:"signature"`
	BlockTime *time.Time          `json:"block_time,omitempty"`
	Category  classifier.Category `json:"category"`
	Symbol    string              `json:"symbol"`
	Size      *int64              `json:"size,omitempty"`
	Price     *int64              `json:"price,omitempty"`
	Data      json.RawMessage     `json:"data"`
	Failed    bool                `json:"failed,omitempty"`
	Table     string              `json:"table"`
	CreatedAt time.Time           `json:"created_at"`
}

func eventToResponse(e *db.StoredEvent) eventResponse {
	var bt *time.Time
	if e.BlockTime != nil {
		t := time.Unix(*e.BlockTime, 0).UTC()
		bt = &t
	}
	return eventResponse{
		Signature: e.Signature,
		BlockTime: bt,
		Category:  e.Category,
		Symbol:    e.Symbol,
		Size:      e.Size,
		Price:     e.Price,
		Data:      e.Raw,
		Failed:    e.Failed,
		Table:     e.Table,
		CreatedAt: e.CreatedAt,
	}
}

// handleListEvents returns a handler that lists stored events, newest first.
// GET /api/v1/events?category=C&symbol=S&limit=N&offset=N
func handleListEvents(store EventReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		params := db.ListEventsParams{Limit: defaultListLimit}

		if c := query.Get("category"); c != "" {
			category, err := classifier.ParseCategory(c)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			params.Category = category
		}

		if s := query.Get("symbol"); s != "" {
			if err := validateSymbol(s); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			params.Symbol = s
		}

		limit, err := parseIntParam(query.Get("limit"), "limit", defaultListLimit, 1, maxListLimit)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		params.Limit = int32(limit)

		offset, err := parseIntParam(query.Get("offset"), "offset", 0, 0, math.MaxInt32)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		params.Offset = int32(offset)

		events, err := store.ListEvents(r.Context(), params)
		if err != nil {
			logger.Error("failed to list events", "category", params.Category, "symbol", params.Symbol, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("events listed", "count", len(events))

		resp := make([]eventResponse, len(events))
		for i := range events {
			resp[i] = eventToResponse(events[i])
		}

		writeJSON(w, map[string]interface{}{
			"events": resp,
			"count":  len(resp),
			"limit":  params.Limit,
			"offset": params.Offset,
		}, http.StatusOK)
	})
}

// handleGetEvent returns a handler that looks a signature up across all stores.
// GET /api/v1/events/{signature}
func handleGetEvent(store EventReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.PathValue("signature")
		if err := validateSignature(signature); err != nil {
			logger.Debug("invalid signature", "signature", signature, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		event, err := store.GetEvent(r.Context(), signature)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "event not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get event", "signature", signature, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, eventToResponse(event), http.StatusOK)
	})
}

// handleGetCursor returns a handler that reports the persisted checkpoint.
// GET /api/v1/cursor?name=NAME
func handleGetCursor(store EventReader, defaultName string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			name = defaultName
		}

		cp, err := store.GetCursor(r.Context(), name)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "cursor not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get cursor", "name", name, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, cp, http.StatusOK)
	})
}

// handleListSymbols returns a handler that lists the symbol index, or
// resolves one pair when base and quote are given.
// GET /api/v1/symbols[?base=MINT&quote=MINT]
func handleListSymbols(resolver *symbols.Resolver) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		base, quote := query.Get("base"), query.Get("quote")

		if base != "" || quote != "" {
			for _, mint := range []string{base, quote} {
				if err := validateMint(mint); err != nil {
					writeError(w, err.Error(), http.StatusBadRequest)
					return
				}
			}
			writeJSON(w, symbols.Pair{
				Symbol:    resolver.Resolve(base, quote),
				BaseMint:  base,
				QuoteMint: quote,
			}, http.StatusOK)
			return
		}

		pairs := resolver.Pairs()
		writeJSON(w, map[string]interface{}{
			"symbols": pairs,
			"count":   len(pairs),
		}, http.StatusOK)
	})
}

// handleDescribeIngest returns a handler that reports the ingest workflow.
// GET /api/v1/ingest
func handleDescribeIngest(scheduler temporal.Scheduler, cursorName string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, err := scheduler.DescribeIngest(r.Context(), cursorName)
		if err != nil {
			logger.Warn("failed to describe ingest workflow", "cursor", cursorName, "error", err)
			writeError(w, "ingest workflow not found", http.StatusNotFound)
			return
		}
		writeJSON(w, status, http.StatusOK)
	})
}

// handleHealth reports OK when the database answers a ping.
func handleHealth(store EventReader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			logger.Error("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// parseIntParam parses an optional integer query parameter bounded by
// [min, max]. Values outside the int range are reported against the bound
// they overflow.
func parseIntParam(raw, name string, def, min, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		var numErr *strconv.NumError
		if !errors.As(err, &numErr) || !errors.Is(numErr.Err, strconv.ErrRange) {
			return 0, errorf("invalid %s parameter: must be an integer", name)
		}
		v = max + 1
		if strings.HasPrefix(raw, "-") {
			v = min - 1
		}
	}
	if v < min {
		if min == 0 {
			return 0, errorf("%s cannot be negative", name)
		}
		return 0, errorf("%s must be at least %d", name, min)
	}
	if v > max {
		return 0, errorf("%s cannot exceed %d", name, max)
	}
	return v, nil
}

// validateBase58 checks a path or query value for length, control
// characters and the base58 alphabet.
func validateBase58(field, value string, maxLen int) error {
	if value == "" {
		return errorf("%s is required", field)
	}

	if len(value) > maxLen {
		return errorf("%s too long: maximum length is %d characters", field, maxLen)
	}

	for _, r := range value {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in %s: control characters not allowed", field)
		}
	}

	if !validBase58Regex.MatchString(value) {
		return errorf("invalid %s format: must contain only valid base58 characters", field)
	}

	return nil
}

func validateSignature(signature string) error {
	return validateBase58("signature", signature, maxSignatureLength)
}

func validateMint(mint string) error {
	return validateBase58("mint", mint, 44)
}

func validateSymbol(symbol string) error {
	if len(symbol) > maxSymbolLength {
		return errorf("symbol too long: maximum length is %d characters", maxSymbolLength)
	}
	if !validSymbolRegex.MatchString(symbol) {
		return errorf("invalid symbol format")
	}
	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
