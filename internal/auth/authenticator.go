// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package auth issues and checks privet tokens.
//
// A token is base64(SHA1(secret + ":" + timestamp)) + ":" + timestamp, where
// timestamp is the issue time in Unix milliseconds. Fresh tokens handed out by
// the info endpoint are accepted for a short window; the token bound to a
// session at creation is compared verbatim for the life of the session.
package auth

import (
	"crypto/sha1" // #nosec G505 -- privet token format mandates SHA-1
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMalformedToken is returned when the token cannot be split or parsed.
	ErrMalformedToken = errors.New("malformed privet token")
	// ErrTokenExpired is returned when the embedded timestamp is outside the window.
	ErrTokenExpired = errors.New("privet token outside acceptance window")
	// ErrTokenMismatch is returned when the hash does not match the timestamp.
	ErrTokenMismatch = errors.New("privet token hash mismatch")
)

// Authenticator generates and validates privet tokens.
type Authenticator struct {
	secret string
	now    func() time.Time
}

// NewAuthenticator returns an authenticator keyed by secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: secret, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	a.now = now
	return a
}

// Issue returns a token stamped with the current time.
func (a *Authenticator) Issue() string {
	return a.Generate(a.now())
}

// Generate returns the token for ts.
func (a *Authenticator) Generate(ts time.Time) string {
	stamp := strconv.FormatInt(ts.UnixMilli(), 10)
	return a.hash(stamp) + ":" + stamp
}

func (a *Authenticator) hash(stamp string) string {
	sum := sha1.Sum([]byte(a.secret + ":" + stamp)) // #nosec G401
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Validate checks that token was produced by this authenticator no earlier
// than window ago. Tokens stamped in the future are rejected.
func (a *Authenticator) Validate(token string, window time.Duration) error {
	sum, stamp, ms, err := split(token)
	if err != nil {
		return err
	}

	issued := time.UnixMilli(ms)
	now := a.now()
	if issued.After(now) || now.Sub(issued) > window {
		return ErrTokenExpired
	}
	return a.compare(sum, stamp)
}

// Verify checks only that token was produced by this authenticator, at any
// time. It identifies callers holding a token from an ended session.
func (a *Authenticator) Verify(token string) error {
	sum, stamp, _, err := split(token)
	if err != nil {
		return err
	}
	return a.compare(sum, stamp)
}

func (a *Authenticator) compare(sum, stamp string) error {
	if !AuthorizeToken(sum, a.hash(stamp)) {
		return ErrTokenMismatch
	}
	return nil
}

func split(token string) (sum, stamp string, ms int64, err error) {
	idx := strings.LastIndexByte(token, ':')
	if idx <= 0 || idx == len(token)-1 {
		return "", "", 0, ErrMalformedToken
	}
	stamp = token[idx+1:]
	ms, err = strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return "", "", 0, ErrMalformedToken
	}
	return token[:idx], stamp, ms, nil
}
