package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rhuss/dolmetscher/pkg/api"
	"github.com/rhuss/dolmetscher/pkg/debug"
)

// Middleware creates HTTP middleware from a Chain. It skips bypassed
// paths, rejects malformed credentials with 401, and otherwise stores the
// resolved credential in the request context. When every source abstains
// the request proceeds without a credential.
func Middleware(chain *Chain, bypassEndpoints []string) func(http.Handler) http.Handler {
	bypass := make(map[string]bool, len(bypassEndpoints))
	for _, ep := range bypassEndpoints {
		bypass[ep] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			result := chain.Resolve(r)
			switch result.Decision {
			case Reject:
				slog.Warn("credential rejected",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", result.Err,
				)
				writeUnauthorized(w, result.Err)
				return
			case Found:
				debug.Log("auth", "credential resolved",
					"source", result.Credential.Source,
					"path", r.URL.Path,
				)
				r = r.WithContext(SetCredential(r.Context(), result.Credential))
			default:
				debug.Log("auth", "no credential presented", "path", r.URL.Path)
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	msg := "invalid credential"
	if err != nil {
		msg = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: api.NewAuthenticationError(msg)})
}

// DefaultBypassEndpoints lists endpoints that skip credential resolution.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics", "/openapi.json"}
