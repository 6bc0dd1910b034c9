package auth

import "context"

// credentialKey is a private type for the credential context key.
type credentialKey struct{}

// SetCredential stores the resolved credential in the context.
func SetCredential(ctx context.Context, cred *Credential) context.Context {
	return context.WithValue(ctx, credentialKey{}, cred)
}

// CredentialFromContext retrieves the resolved credential.
// Returns nil if no credential was resolved.
func CredentialFromContext(ctx context.Context) *Credential {
	if v, ok := ctx.Value(credentialKey{}).(*Credential); ok {
		return v
	}
	return nil
}

// WithAPIKey stores key as the request credential.
func WithAPIKey(ctx context.Context, key string) context.Context {
	return SetCredential(ctx, &Credential{APIKey: key, Source: "context"})
}

// APIKeyFromContext returns the request key, if any.
func APIKeyFromContext(ctx context.Context) (string, bool) {
	cred := CredentialFromContext(ctx)
	if cred == nil || cred.APIKey == "" {
		return "", false
	}
	return cred.APIKey, true
}
