// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/go2link/go2link/lib/clock"
)

// ErrExpired matches *ExpiredError.
var ErrExpired = errors.New("token expired")

// ExpiredError refuses a JWT whose exp claim has passed.
type ExpiredError struct {
	Source    string
	ExpiredAt time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("%s: %s at %s", e.Source, ErrExpired, e.ExpiredAt.UTC().Format(time.RFC3339))
}

func (e *ExpiredError) Is(target error) bool { return target == ErrExpired }

// Provider returns the current bearer token. An empty token is valid
// and means "no account"; local connections work without one.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Static returns a Provider that always returns token.
func Static(token string) Provider {
	return staticProvider(token)
}

type staticProvider string

func (s staticProvider) Token(context.Context) (string, error) { return string(s), nil }

// FileProvider reads the token from a file on every call.
type FileProvider struct {
	path  string
	clock clock.Clock
}

// File returns a FileProvider for path. A nil clk uses the real clock.
func File(path string, clk clock.Clock) *FileProvider {
	if clk == nil {
		clk = clock.Real()
	}
	return &FileProvider{path: path, clock: clk}
}

// Token reads and checks the token. Surrounding whitespace is trimmed.
func (f *FileProvider) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", nil
	}

	expiresAt, ok := Expiry(token)
	if ok && !f.clock.Now().Before(expiresAt) {
		return "", &ExpiredError{Source: f.path, ExpiredAt: expiresAt}
	}
	return token, nil
}

// Expiry returns the exp claim of a JWT. ok is false for tokens that
// are not JWTs or carry no exp claim.
func Expiry(token string) (expiresAt time.Time, ok bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	expiration, err := parsed.Claims.GetExpirationTime()
	if err != nil || expiration == nil {
		return time.Time{}, false
	}
	return expiration.Time, true
}
