// Package store persists model weight snapshots keyed by (uid, iteration).
// Two backends exist: a flat-file store producing one JSON snapshot per key,
// and a Badger store for runs where thousands of snapshots per node would
// drown a directory in small files.
package store

import (
	"github.com/pkg/errors"
)

// ErrKeyNotFound is returned when no snapshot exists for a (uid, iteration)
// pair.
var ErrKeyNotFound = errors.New("no weights stored under this key")

// WeightStore persists and retrieves weight snapshots.
type WeightStore interface {
	// SaveWeights stores the weight vector of uid at the given iteration.
	SaveWeights(uid, iteration int, weights []float64) error

	// LoadWeights retrieves a previously stored snapshot.
	LoadWeights(uid, iteration int) ([]float64, error)

	// Close releases the backend.
	Close() error
}

// New builds the store registered under name ("file" or "badger") rooted at
// dir.
func New(name, dir string) (WeightStore, error) {
	switch name {
	case "", "file":
		return NewFileStore(dir)
	case "badger":
		return NewBadgerStore(dir)
	default:
		return nil, errors.Errorf("no weight store registered under %q", name)
	}
}
