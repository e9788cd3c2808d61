// Package sources provides ready-made fetch functions for query definitions,
// backed by an HTTP JSON API, Firestore documents, or Redis keys.
package sources

import "errors"

// ErrNotFound is returned by every source when the requested item does not
// exist. Source-specific errors are wrapped alongside it.
var ErrNotFound = errors.New("not found in source")
