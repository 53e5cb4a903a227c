// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// HeaderPrivetToken carries the privet token on every protocol request.
const HeaderPrivetToken = "X-Privet-Token"

// ExtractToken retrieves the privet token from the request. Some clients quote
// the header value; the quotes are stripped. The second return value reports
// whether the header was present at all, since an empty token is legal on the
// info endpoints.
func ExtractToken(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	values, ok := r.Header[http.CanonicalHeaderKey(HeaderPrivetToken)]
	if !ok || len(values) == 0 {
		return "", false
	}
	return strings.ReplaceAll(strings.TrimSpace(values[0]), `"`, ""), true
}

// AuthorizeToken returns true if got matches expected using constant-time comparison.
// Empty tokens are always treated as unauthorized.
func AuthorizeToken(got, expected string) bool {
	if strings.TrimSpace(expected) == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}
