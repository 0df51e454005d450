package services

import (
	"errors"
	"testing"
)

func TestDecodeCreatePasteRequest(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantErr      error
		wantContent  string
		wantTTL      *int64
		wantMaxViews *int64
	}{
		{name: "content only", body: `{"content":"hi"}`, wantContent: "hi"},
		{name: "all fields", body: `{"content":"hi","ttl_seconds":60,"max_views":5}`, wantContent: "hi", wantTTL: int64Ptr(60), wantMaxViews: int64Ptr(5)},
		{name: "null optionals", body: `{"content":"hi","ttl_seconds":null,"max_views":null}`, wantContent: "hi"},
		{name: "whitespace content allowed", body: `{"content":"   "}`, wantContent: "   "},
		{name: "malformed json", body: `{"content":`, wantErr: ErrInvalidJSON},
		{name: "empty body", body: ``, wantErr: ErrInvalidJSON},
		{name: "array body", body: `["hi"]`, wantErr: ErrInvalidJSON},
		{name: "null body", body: `null`, wantErr: ErrInvalidJSON},
		{name: "invalid utf-8 in content", body: "{\"content\":\"a\xff\xfeb\"}", wantErr: ErrInvalidJSON},
		{name: "invalid utf-8 outside strings", body: "{\"content\":\"ok\"}\xff", wantErr: ErrInvalidJSON},
		{name: "multibyte content", body: `{"content":"héllo 世界"}`, wantContent: "héllo 世界"},
		{name: "missing content", body: `{"ttl_seconds":60}`, wantErr: ErrInvalidContent},
		{name: "empty content", body: `{"content":""}`, wantErr: ErrInvalidContent},
		{name: "null content", body: `{"content":null}`, wantErr: ErrInvalidContent},
		{name: "numeric content", body: `{"content":42}`, wantErr: ErrInvalidContent},
		{name: "zero ttl", body: `{"content":"hi","ttl_seconds":0}`, wantErr: ErrInvalidTTL},
		{name: "negative ttl", body: `{"content":"hi","ttl_seconds":-5}`, wantErr: ErrInvalidTTL},
		{name: "fractional ttl", body: `{"content":"hi","ttl_seconds":1.5}`, wantErr: ErrInvalidTTL},
		{name: "exponent ttl", body: `{"content":"hi","ttl_seconds":1e3}`, wantErr: ErrInvalidTTL},
		{name: "string ttl", body: `{"content":"hi","ttl_seconds":"60"}`, wantErr: ErrInvalidTTL},
		{name: "boolean ttl", body: `{"content":"hi","ttl_seconds":true}`, wantErr: ErrInvalidTTL},
		{name: "huge ttl", body: `{"content":"hi","ttl_seconds":99999999999}`, wantErr: ErrTTLTooLarge},
		{name: "zero max views", body: `{"content":"hi","max_views":0}`, wantErr: ErrInvalidMaxViews},
		{name: "string max views", body: `{"content":"hi","max_views":"5"}`, wantErr: ErrInvalidMaxViews},
		{name: "content error wins over ttl", body: `{"content":"","ttl_seconds":"x"}`, wantErr: ErrInvalidContent},
		{name: "ttl error wins over max views", body: `{"content":"hi","ttl_seconds":0,"max_views":0}`, wantErr: ErrInvalidTTL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeCreatePasteRequest([]byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Errorf("expected a *ValidationError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.Content != tt.wantContent {
				t.Errorf("expected content %q, got %q", tt.wantContent, req.Content)
			}
			assertInt64Ptr(t, "ttl_seconds", tt.wantTTL, req.TTLSeconds)
			assertInt64Ptr(t, "max_views", tt.wantMaxViews, req.MaxViews)
		})
	}
}

func TestCreatePasteRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreatePasteRequest
		wantErr error
	}{
		{name: "valid", req: CreatePasteRequest{Content: "x", TTLSeconds: int64Ptr(1), MaxViews: int64Ptr(1)}},
		{name: "empty content", req: CreatePasteRequest{}, wantErr: ErrInvalidContent},
		{name: "bad ttl", req: CreatePasteRequest{Content: "x", TTLSeconds: int64Ptr(0)}, wantErr: ErrInvalidTTL},
		{name: "ttl at cap", req: CreatePasteRequest{Content: "x", TTLSeconds: int64Ptr(MaxTTLSeconds)}},
		{name: "ttl over cap", req: CreatePasteRequest{Content: "x", TTLSeconds: int64Ptr(MaxTTLSeconds + 1)}, wantErr: ErrTTLTooLarge},
		{name: "bad max views", req: CreatePasteRequest{Content: "x", MaxViews: int64Ptr(-1)}, wantErr: ErrInvalidMaxViews},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func assertInt64Ptr(t *testing.T, field string, want, got *int64) {
	t.Helper()
	switch {
	case want == nil && got != nil:
		t.Errorf("%s: expected nil, got %d", field, *got)
	case want != nil && got == nil:
		t.Errorf("%s: expected %d, got nil", field, *want)
	case want != nil && *want != *got:
		t.Errorf("%s: expected %d, got %d", field, *want, *got)
	}
}

func int64Ptr(v int64) *int64 {
	return &v
}
