package store

import (
	"bytes"
	"fmt"

	"github.com/dgraph-io/badger"
	"github.com/ugorji/go/codec"
)

const weightsPrefix = "weights"

// BadgerStore keeps weight snapshots in a Badger database, one key per
// (uid, iteration) pair.
type BadgerStore struct {
	db   *badger.DB
	path string
}

// NewBadgerStore opens (or creates) a Badger database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false
	opts.Logger = nil

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerStore{
		db:   handle,
		path: path,
	}, nil
}

func weightsKey(uid, iteration int) []byte {
	return []byte(fmt.Sprintf("%s_%d_%d", weightsPrefix, uid, iteration))
}

// SaveWeights implements the WeightStore interface.
func (s *BadgerStore) SaveWeights(uid, iteration int, weights []float64) error {
	var mh codec.MsgpackHandle
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &mh)
	if err := enc.Encode(weights); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(weightsKey(uid, iteration), buf.Bytes())
	})
}

// LoadWeights implements the WeightStore interface.
func (s *BadgerStore) LoadWeights(uid, iteration int) ([]float64, error) {
	var weights []float64

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(weightsKey(uid, iteration))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrKeyNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var mh codec.MsgpackHandle
			dec := codec.NewDecoder(bytes.NewReader(val), &mh)
			return dec.Decode(&weights)
		})
	})
	if err != nil {
		return nil, err
	}

	return weights, nil
}

// Close implements the WeightStore interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
