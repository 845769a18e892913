package training

import (
	"runtime"
	"sync"

	"github.com/meshlearn/meshlearn/src/mapping"
	"github.com/sirupsen/logrus"
)

// Trainer performs one round of local computation on the node's dataset.
type Trainer interface {
	// Train runs one round and updates the model in place.
	Train(ds Dataset) error

	// EvalLoss returns the model's loss over the training shard.
	EvalLoss(ds Dataset) float64

	// ResetOptimizer swaps in a fresh optimizer, discarding momentum state.
	ResetOptimizer(opt Optimizer)
}

// ThreadsPerProc bounds the numeric worker count so that many node processes
// sharing one machine do not oversubscribe its cores:
// floor(total CPUs / procs per machine), at least 1.
func ThreadsPerProc(m mapping.Mapping) int {
	t := runtime.NumCPU() / m.ProcsPerMachine()
	if t < 1 {
		t = 1
	}
	return t
}

// GradientTrainer is the builtin least-squares trainer: per round it runs
// Epochs passes over the training shard in BatchSize batches, computing
// batch gradients across Threads workers.
type GradientTrainer struct {
	model  *Model
	opt    Optimizer
	logger *logrus.Entry

	Epochs    int
	BatchSize int
	Threads   int
}

// NewGradientTrainer returns a trainer for the given model and optimizer.
func NewGradientTrainer(model *Model, opt Optimizer, threads int, logger *logrus.Entry) *GradientTrainer {
	if threads < 1 {
		threads = 1
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &GradientTrainer{
		model:     model,
		opt:       opt,
		logger:    logger,
		Epochs:    1,
		BatchSize: 16,
		Threads:   threads,
	}
}

// Train implements the Trainer interface.
func (t *GradientTrainer) Train(ds Dataset) error {
	trainset := ds.Trainset()

	for epoch := 0; epoch < t.Epochs; epoch++ {
		var epochLoss float64
		var batches int

		for start := 0; start < len(trainset); start += t.BatchSize {
			end := start + t.BatchSize
			if end > len(trainset) {
				end = len(trainset)
			}

			loss, grads := t.batchGrad(trainset[start:end])
			t.opt.Step(t.model.Params(), grads)

			epochLoss += loss
			batches++
		}

		t.logger.WithFields(logrus.Fields{
			"epoch": epoch,
			"loss":  epochLoss / float64(batches),
		}).Debug("Epoch complete")
	}

	return nil
}

// EvalLoss implements the Trainer interface.
func (t *GradientTrainer) EvalLoss(ds Dataset) float64 {
	return MeanSquaredLoss(t.model, ds)
}

// ResetOptimizer implements the Trainer interface.
func (t *GradientTrainer) ResetOptimizer(opt Optimizer) {
	t.opt = opt
}

// batchGrad computes the mean squared-error loss and gradient over one
// batch, splitting the batch across the trainer's workers.
func (t *GradientTrainer) batchGrad(batch []Sample) (float64, []float64) {
	dim := t.model.Dim()
	params := t.model.Params()

	workers := t.Threads
	if workers > len(batch) {
		workers = len(batch)
	}

	type partial struct {
		loss  float64
		grads []float64
	}

	parts := make([]partial, workers)
	chunk := (len(batch) + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > len(batch) {
			end = len(batch)
		}

		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()

			grads := make([]float64, dim)
			var loss float64
			for _, smp := range batch[start:end] {
				d := dot(params, smp.X) - smp.Y
				loss += d * d
				for j := range grads {
					grads[j] += 2 * d * smp.X[j]
				}
			}
			parts[w] = partial{loss: loss, grads: grads}
		}(w, start, end)
	}
	wg.Wait()

	grads := make([]float64, dim)
	var loss float64
	for _, p := range parts {
		loss += p.loss
		for j := range grads {
			grads[j] += p.grads[j]
		}
	}

	n := float64(len(batch))
	for j := range grads {
		grads[j] /= n
	}

	return loss / n, grads
}
