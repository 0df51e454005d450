package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// MaxTTLSeconds caps ttl_seconds at one hundred years so the expiry stays
// representable in every backend
const MaxTTLSeconds int64 = 100 * 365 * 24 * 60 * 60

// ValidationError is a client input error; Message is safe to return as is
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var (
	ErrInvalidJSON     = &ValidationError{Message: "Invalid JSON"}
	ErrInvalidContent  = &ValidationError{Message: "content is required and must be non-empty string"}
	ErrInvalidTTL      = &ValidationError{Message: "ttl_seconds must be integer >= 1"}
	ErrTTLTooLarge     = &ValidationError{Message: fmt.Sprintf("ttl_seconds must be integer <= %d", MaxTTLSeconds)}
	ErrInvalidMaxViews = &ValidationError{Message: "max_views must be integer >= 1"}
)

// CreatePasteRequest represents a request to create a paste
type CreatePasteRequest struct {
	Content    string
	TTLSeconds *int64
	MaxViews   *int64
}

// Validate checks the request fields in a fixed order: content, then
// ttl_seconds, then max_views. The first failure wins.
func (r CreatePasteRequest) Validate() error {
	if r.Content == "" {
		return ErrInvalidContent
	}
	if r.TTLSeconds != nil {
		if *r.TTLSeconds < 1 {
			return ErrInvalidTTL
		}
		if *r.TTLSeconds > MaxTTLSeconds {
			return ErrTTLTooLarge
		}
	}
	if r.MaxViews != nil && *r.MaxViews < 1 {
		return ErrInvalidMaxViews
	}
	return nil
}

// DecodeCreatePasteRequest parses a JSON request body. Type errors are
// reported with the same messages and in the same field order as Validate,
// so a body with several problems always yields the earliest one. Bodies
// that are not valid UTF-8 are malformed JSON.
func DecodeCreatePasteRequest(body []byte) (CreatePasteRequest, error) {
	var req CreatePasteRequest

	// encoding/json would replace invalid bytes with U+FFFD
	if !utf8.Valid(body) {
		return req, ErrInvalidJSON
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return req, ErrInvalidJSON
	}

	raw, ok := fields["content"]
	if !ok || json.Unmarshal(raw, &req.Content) != nil || req.Content == "" {
		return req, ErrInvalidContent
	}

	ttl, err := optionalInt(fields["ttl_seconds"], ErrInvalidTTL)
	if err != nil {
		return req, err
	}
	req.TTLSeconds = ttl
	if ttl != nil && *ttl < 1 {
		return req, ErrInvalidTTL
	}
	if ttl != nil && *ttl > MaxTTLSeconds {
		return req, ErrTTLTooLarge
	}

	maxViews, err := optionalInt(fields["max_views"], ErrInvalidMaxViews)
	if err != nil {
		return req, err
	}
	req.MaxViews = maxViews

	return req, req.Validate()
}

// optionalInt decodes an optional JSON integer. Missing and null values are
// absent; fractions, exponents, strings and booleans are rejected with invalid.
func optionalInt(raw json.RawMessage, invalid error) (*int64, error) {
	if raw == nil || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}

	var value interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		return nil, invalid
	}
	num, ok := value.(json.Number)
	if !ok {
		return nil, invalid
	}

	n, err := strconv.ParseInt(num.String(), 10, 64)
	if err != nil {
		return nil, invalid
	}
	return &n, nil
}
