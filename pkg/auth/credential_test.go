// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://relay/api/chat", nil)
	req.Header.Set(HeaderAuthorization, "  Bearer token-123 ")

	cred, err := FromRequest(req)
	if err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if cred != "Bearer token-123" {
		t.Fatalf("unexpected credential: %q", cred)
	}
	if got := cred.Scheme(); got != "Bearer" {
		t.Fatalf("unexpected scheme: %q", got)
	}
}

func TestFromRequestMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://relay/api/chat", nil)

	_, err := FromRequest(req)
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestApply(t *testing.T) {
	out := httptest.NewRequest(http.MethodPost, "http://backend/api/chat", nil)

	Credential("").Apply(out)
	if got := out.Header.Get(HeaderAuthorization); got != "" {
		t.Fatalf("empty credential should not set header, got %q", got)
	}

	Credential("Bearer abc").Apply(out)
	if got := out.Header.Get(HeaderAuthorization); got != "Bearer abc" {
		t.Fatalf("header mismatch: got %q", got)
	}
}

func TestSchemeWithoutSpace(t *testing.T) {
	if got := Credential("opaque").Scheme(); got != "" {
		t.Fatalf("expected empty scheme, got %q", got)
	}
}
