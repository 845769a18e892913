package training

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DatasetFactory builds a Dataset from configuration. Implementations are
// selected by name, replacing dynamic class loading with compile-time
// registration.
type DatasetFactory func(DatasetConfig) (Dataset, error)

// TrainerConfig parameterises trainer construction.
type TrainerConfig struct {
	Model     *Model
	Optimizer Optimizer
	Threads   int
	Epochs    int
	BatchSize int
	Logger    *logrus.Entry
}

// TrainerFactory builds a Trainer from configuration.
type TrainerFactory func(TrainerConfig) (Trainer, error)

var (
	registryMu sync.Mutex
	datasets   = map[string]DatasetFactory{}
	trainers   = map[string]TrainerFactory{}
)

// RegisterDataset makes a dataset implementation available under name.
func RegisterDataset(name string, f DatasetFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	datasets[name] = f
}

// NewDataset builds the dataset registered under name.
func NewDataset(name string, cfg DatasetConfig) (Dataset, error) {
	registryMu.Lock()
	f, ok := datasets[name]
	registryMu.Unlock()

	if !ok {
		return nil, errors.Errorf("no dataset registered under %q", name)
	}
	return f(cfg)
}

// RegisterTrainer makes a trainer implementation available under name.
func RegisterTrainer(name string, f TrainerFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	trainers[name] = f
}

// NewTrainer builds the trainer registered under name.
func NewTrainer(name string, cfg TrainerConfig) (Trainer, error) {
	registryMu.Lock()
	f, ok := trainers[name]
	registryMu.Unlock()

	if !ok {
		return nil, errors.Errorf("no trainer registered under %q", name)
	}
	return f(cfg)
}

func init() {
	RegisterDataset("synthetic", func(cfg DatasetConfig) (Dataset, error) {
		return NewSynthetic(cfg)
	})

	RegisterTrainer("gradient", func(cfg TrainerConfig) (Trainer, error) {
		t := NewGradientTrainer(cfg.Model, cfg.Optimizer, cfg.Threads, cfg.Logger)
		if cfg.Epochs > 0 {
			t.Epochs = cfg.Epochs
		}
		if cfg.BatchSize > 0 {
			t.BatchSize = cfg.BatchSize
		}
		return t, nil
	})
}
