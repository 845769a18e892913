package node

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"
)

// Results is the per-node round record, keyed by 1-based iteration number.
// It is append-only in memory and fully rewritten to disk after every round,
// so a reader mid-run always sees a syntactically complete file.
type Results struct {
	TrainLoss     map[int]float64 `json:"train_loss"`
	TestLoss      map[int]float64 `json:"test_loss"`
	TestAcc       map[int]float64 `json:"test_acc"`
	TotalBytes    map[int]uint64  `json:"total_bytes"`
	TotalMeta     map[int]uint64  `json:"total_meta"`
	TotalDataPerN map[int]uint64  `json:"total_data_per_n"`
	GradMean      map[int]float64 `json:"grad_mean"`
	GradStd       map[int]float64 `json:"grad_std"`
}

// NewResults returns an empty record.
func NewResults() *Results {
	return &Results{
		TrainLoss:     map[int]float64{},
		TestLoss:      map[int]float64{},
		TestAcc:       map[int]float64{},
		TotalBytes:    map[int]uint64{},
		TotalMeta:     map[int]uint64{},
		TotalDataPerN: map[int]uint64{},
		GradMean:      map[int]float64{},
		GradStd:       map[int]float64{},
	}
}

// ResultsPath returns the per-rank results file path.
func ResultsPath(logDir string, rank int) string {
	return filepath.Join(logDir, fmt.Sprintf("%d_results.json", rank))
}

// WriteFile rewrites the per-rank results file in full.
func (r *Results) WriteFile(logDir string, rank int) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return ioutil.WriteFile(ResultsPath(logDir, rank), buf.Bytes(), 0644)
}

// LoadResults parses a per-rank results file.
func LoadResults(logDir string, rank int) (*Results, error) {
	buf, err := ioutil.ReadFile(ResultsPath(logDir, rank))
	if err != nil {
		return nil, err
	}

	r := NewResults()
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(r); err != nil {
		return nil, err
	}
	return r, nil
}
