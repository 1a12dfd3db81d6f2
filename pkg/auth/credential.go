// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package auth

import (
	"errors"
	"net/http"
	"strings"
)

// HeaderAuthorization carries the caller credential in both directions.
const HeaderAuthorization = "Authorization"

// ErrMissingCredential is returned when the inbound request has no credential.
var ErrMissingCredential = errors.New("authorization credential is missing")

// Credential is the caller's Authorization header value, forwarded verbatim.
// The relay never inspects or validates it; the backend does.
type Credential string

// FromRequest extracts the caller credential from the inbound request.
func FromRequest(r *http.Request) (Credential, error) {
	value := strings.TrimSpace(r.Header.Get(HeaderAuthorization))
	if value == "" {
		return "", ErrMissingCredential
	}
	return Credential(value), nil
}

// Apply attaches the credential to an outbound request. An empty credential
// leaves the request untouched.
func (c Credential) Apply(req *http.Request) {
	if c == "" {
		return
	}
	req.Header.Set(HeaderAuthorization, string(c))
}

// Scheme reports the authorization scheme ("Bearer", "Basic", ...) for logs,
// so the secret itself never reaches a log line.
func (c Credential) Scheme() string {
	scheme, _, found := strings.Cut(string(c), " ")
	if !found {
		return ""
	}
	return scheme
}
