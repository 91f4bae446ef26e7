// Package persistence checkpoints core state (orders, sequences) so it
// survives a process restart. The engine is pluggable: memory for tests,
// a json directory for single-host deployments, redis for everything else.
package persistence

import "github.com/pkg/errors"

// Service hands out namespaced stores.
type Service interface {
	NewStore(id string, subIDs ...string) Store
}

// Store loads and saves one json-encodable value under one key.
type Store interface {
	Load(val interface{}) error
	Save(val interface{}) error
}

// ErrNotFound is returned by Load when nothing was saved under the key.
var ErrNotFound = errors.New("persistence: key not found")
