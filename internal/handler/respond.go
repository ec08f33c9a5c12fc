package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/famevents/internal/event"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeRequest reads a JSON body into dst and validates it. On failure it
// writes a 400 and returns false.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		msg := "invalid JSON"
		var te *json.UnmarshalTypeError
		switch {
		case errors.Is(err, io.EOF):
			msg = "request body is required"
		case errors.As(err, &te):
			msg = fmt.Sprintf("%s has the wrong type", te.Field)
		}
		badRequest(w, msg)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		badRequest(w, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "gtefield":
			msgs = append(msgs, fmt.Sprintf("%s must not be before %s", fe.Field(), lowerFirst(fe.Param())))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(msgs, "; ")
}

// lowerFirst turns a Go field name like StartTime into its JSON name.
func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// writeError maps a service error onto its status and a {"error": msg}
// body. Internal causes go to logger, never to the client.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, msg := event.StatusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// badRequest writes a VALIDATION_FAILED style 400.
func badRequest(w http.ResponseWriter, msg string) {
	status, body := event.StatusOf(event.Validation(msg))
	writeJSON(w, status, map[string]string{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseFlexibleTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// optionalTime parses a query parameter that may be absent.
func optionalTime(r *http.Request, key string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	t, err := parseFlexibleTime(raw)
	if err != nil {
		return nil, event.Validation(key + " must be RFC3339 or YYYY-MM-DD format")
	}
	return &t, nil
}
