package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
)

// FileStore writes one JSON snapshot per (uid, iteration) pair into a
// directory. Every rank owns its own files, so no two processes ever write
// the same path.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns the store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(uid, iteration int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d_%d_weights.json", uid, iteration))
}

// SaveWeights implements the WeightStore interface.
func (s *FileStore) SaveWeights(uid, iteration int, weights []float64) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(weights); err != nil {
		return err
	}
	return ioutil.WriteFile(s.path(uid, iteration), buf.Bytes(), 0644)
}

// LoadWeights implements the WeightStore interface.
func (s *FileStore) LoadWeights(uid, iteration int) ([]float64, error) {
	buf, err := ioutil.ReadFile(s.path(uid, iteration))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}

	var weights []float64
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&weights); err != nil {
		return nil, err
	}
	return weights, nil
}

// Close implements the WeightStore interface.
func (s *FileStore) Close() error {
	return nil
}
