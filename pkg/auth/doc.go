// Package auth resolves the upstream credential for each request.
//
// dolmetscher does not authenticate callers itself: the key a client
// presents is handed through to the upstream, which decides. Resolution
// uses a chain-of-responsibility with three-outcome voting: each
// CredentialSource returns Found (key extracted), Reject (credential
// present but malformed), or Abstain (nothing to offer). The first Found
// or Reject wins.
//
// Resolution is implemented as HTTP middleware. The resolved key is stored
// in the request context, where the upstream client picks it up.
package auth
