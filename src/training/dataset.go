package training

import (
	"math"
	"math/rand"

	"github.com/meshlearn/meshlearn/src/mapping"
)

// Sample is one labelled data point.
type Sample struct {
	X []float64
	Y float64
}

// Dataset is the data surface a trainer consumes. Implementations partition
// a global dataset across UIDs so that each node trains on its own shard.
type Dataset interface {
	// Trainset returns the node's training shard.
	Trainset() []Sample

	// Testing reports whether the dataset carries a test set.
	Testing() bool

	// Test evaluates the model on the test set and returns accuracy and
	// loss.
	Test(m *Model) (acc float64, loss float64)
}

// DatasetConfig parameterises dataset construction. Full requests the whole
// dataset rather than the node's shard; UID 0 uses it for centralized train
// evaluation.
type DatasetConfig struct {
	Rank      int
	MachineID int
	Mapping   mapping.Mapping
	Seed      int64
	Dim       int
	Samples   int
	Full      bool
}

// Synthetic is a least-squares regression dataset: targets are produced by a
// hidden weight vector plus noise, and samples are partitioned across UIDs.
// The generator is seeded, so every process derives the same global dataset
// and cuts out its own shard.
type Synthetic struct {
	trainset []Sample
	testset  []Sample
	hidden   []float64
}

// NewSynthetic builds the dataset for one node.
func NewSynthetic(cfg DatasetConfig) (*Synthetic, error) {
	uid, err := cfg.Mapping.GetUID(cfg.Rank, cfg.MachineID)
	if err != nil {
		return nil, err
	}

	if cfg.Dim == 0 {
		cfg.Dim = 8
	}
	if cfg.Samples == 0 {
		cfg.Samples = 64
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	hidden := make([]float64, cfg.Dim)
	for i := range hidden {
		hidden[i] = rng.NormFloat64()
	}

	nProcs := cfg.Mapping.NProcs()
	total := cfg.Samples * nProcs

	gen := func(n int) []Sample {
		samples := make([]Sample, n)
		for i := range samples {
			x := make([]float64, cfg.Dim)
			for j := range x {
				x[j] = rng.NormFloat64()
			}
			y := dot(hidden, x) + 0.01*rng.NormFloat64()
			samples[i] = Sample{X: x, Y: y}
		}
		return samples
	}

	all := gen(total)
	test := gen(cfg.Samples)

	ds := &Synthetic{
		testset: test,
		hidden:  hidden,
	}

	if cfg.Full {
		ds.trainset = all
	} else {
		ds.trainset = all[uid*cfg.Samples : (uid+1)*cfg.Samples]
	}

	return ds, nil
}

// Trainset implements the Dataset interface.
func (s *Synthetic) Trainset() []Sample {
	return s.trainset
}

// Testing implements the Dataset interface.
func (s *Synthetic) Testing() bool {
	return len(s.testset) > 0
}

// Test implements the Dataset interface. Accuracy for the regression task is
// the fraction of predictions within half a unit of the target.
func (s *Synthetic) Test(m *Model) (float64, float64) {
	var loss float64
	var hits int

	for _, smp := range s.testset {
		pred := dot(m.Params(), smp.X)
		d := pred - smp.Y
		loss += d * d
		if math.Abs(d) < 0.5 {
			hits++
		}
	}

	n := float64(len(s.testset))
	return float64(hits) / n, loss / n
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
