package auth

import (
	"errors"
	"net/http"
)

// Decision represents the three possible outcomes of credential resolution.
type Decision int

const (
	// Found means a key was extracted. The chain stops and the key is used.
	Found Decision = iota

	// Reject means a credential is present but unusable. The chain stops
	// and the request is rejected.
	Reject

	// Abstain means this source has nothing to offer. The chain continues.
	Abstain
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case Found:
		return "found"
	case Reject:
		return "reject"
	default:
		return "abstain"
	}
}

// Result carries the outcome of one resolution attempt.
type Result struct {
	Decision   Decision
	Credential *Credential // populated only when Decision == Found
	Err        error       // populated only when Decision == Reject
}

// Credential is the key handed to the upstream.
type Credential struct {
	// APIKey is the raw key. It is never logged.
	APIKey string

	// Source names the source that produced the key (e.g., "bearer").
	Source string
}

// CredentialSource examines a request and returns a three-outcome vote.
type CredentialSource interface {
	Resolve(r *http.Request) Result
}

// CredentialSourceFunc adapts a function to CredentialSource.
type CredentialSourceFunc func(r *http.Request) Result

// Resolve calls f.
func (f CredentialSourceFunc) Resolve(r *http.Request) Result {
	return f(r)
}

// Sentinel errors.
var (
	ErrEmptyCredential     = errors.New("empty credential")
	ErrMalformedCredential = errors.New("malformed credential")
)

// Chain evaluates sources in order.
type Chain struct {
	// Sources are evaluated left to right.
	Sources []CredentialSource
}

// NewChain returns a Chain over sources, skipping nil entries.
func NewChain(sources ...CredentialSource) *Chain {
	c := &Chain{}
	for _, s := range sources {
		if s != nil {
			c.Sources = append(c.Sources, s)
		}
	}
	return c
}

// Resolve runs the chain. It stops on the first Found or Reject and
// returns Abstain when every source abstains.
func (c *Chain) Resolve(r *http.Request) Result {
	for _, src := range c.Sources {
		result := src.Resolve(r)
		if result.Decision != Abstain {
			return result
		}
	}
	return Result{Decision: Abstain}
}
