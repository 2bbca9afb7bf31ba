// Package httpx provides HTTP response utilities for the JSON envelope.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/foursyz/policyd/internal/shared"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Envelope is the body shape shared by every API response.
type Envelope map[string]any

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Success writes {"status":"success","message":...} merged with fields.
func Success(w http.ResponseWriter, status int, message string, fields Envelope) {
	body := Envelope{"status": statusSuccess, "message": message}
	for k, v := range fields {
		body[k] = v
	}
	JSON(w, status, body)
}

// Error writes {"status":"error","message":...} with optional per-field errors.
func Error(w http.ResponseWriter, status int, message string, fieldErrors map[string]string) {
	body := Envelope{"status": statusError, "message": message}
	if len(fieldErrors) > 0 {
		body["errors"] = fieldErrors
	}
	JSON(w, status, body)
}

// DecodeJSON decodes the request body into target. Malformed JSON is a validation error.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return decodeError(err)
	}
	return nil
}

// DecodeOptionalJSON is DecodeJSON but accepts an empty body.
func DecodeOptionalJSON(r *http.Request, target any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return decodeError(err)
	}
	return nil
}

// decodeError keeps field errors raised by custom unmarshalers.
func decodeError(err error) error {
	var verr *shared.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	return fmt.Errorf("%w: invalid request body: %v", shared.ErrValidation, err)
}
