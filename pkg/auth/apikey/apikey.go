// Package apikey provides the credential sources used to find the key a
// client wants forwarded upstream.
package apikey

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rhuss/dolmetscher/pkg/auth"
)

// BearerSource reads "Authorization: Bearer <key>".
//
// It abstains when the header is absent or uses another scheme, and
// rejects a Bearer header with an empty key.
type BearerSource struct{}

// Resolve implements auth.CredentialSource.
func (BearerSource) Resolve(r *http.Request) auth.Result {
	header := r.Header.Get("Authorization")
	if header == "" {
		return auth.Result{Decision: auth.Abstain}
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return auth.Result{Decision: auth.Abstain}
	}

	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return auth.Result{Decision: auth.Reject, Err: fmt.Errorf("bearer token: %w", auth.ErrEmptyCredential)}
	}
	if strings.ContainsAny(token, " \t") {
		return auth.Result{Decision: auth.Reject, Err: fmt.Errorf("bearer token: %w", auth.ErrMalformedCredential)}
	}

	return auth.Result{Decision: auth.Found, Credential: &auth.Credential{APIKey: token, Source: "bearer"}}
}

// HeaderSource reads the key from a named header, such as "x-api-key".
// It abstains when the header is absent or blank.
type HeaderSource struct {
	Name string
}

// Resolve implements auth.CredentialSource.
func (s HeaderSource) Resolve(r *http.Request) auth.Result {
	key := strings.TrimSpace(r.Header.Get(s.Name))
	if key == "" {
		return auth.Result{Decision: auth.Abstain}
	}
	return auth.Result{Decision: auth.Found, Credential: &auth.Credential{APIKey: key, Source: strings.ToLower(s.Name)}}
}

// StaticSource always yields the configured key. It is the fallback for
// deployments that hold the upstream key themselves.
type StaticSource struct {
	Key string
}

// NewStaticSource returns a StaticSource, or nil when key is empty so it
// can be passed straight to auth.NewChain.
func NewStaticSource(key string) auth.CredentialSource {
	if key == "" {
		return nil
	}
	return StaticSource{Key: key}
}

// Resolve implements auth.CredentialSource.
func (s StaticSource) Resolve(_ *http.Request) auth.Result {
	if s.Key == "" {
		return auth.Result{Decision: auth.Abstain}
	}
	return auth.Result{Decision: auth.Found, Credential: &auth.Credential{APIKey: s.Key, Source: "config"}}
}

// DefaultChain is the resolution order used by the server: bearer token,
// then x-api-key, then the configured fallback key.
func DefaultChain(fallbackKey string) *auth.Chain {
	return auth.NewChain(
		BearerSource{},
		HeaderSource{Name: "x-api-key"},
		NewStaticSource(fallbackKey),
	)
}
