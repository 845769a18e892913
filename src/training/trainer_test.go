package training

import (
	"testing"

	"github.com/meshlearn/meshlearn/src/common"
	"github.com/meshlearn/meshlearn/src/mapping"
	"github.com/sirupsen/logrus"
)

func testDataset(t *testing.T, full bool) Dataset {
	t.Helper()

	ds, err := NewSynthetic(DatasetConfig{
		Rank:      0,
		MachineID: 0,
		Mapping:   mapping.NewLinear(1, 2),
		Seed:      97,
		Dim:       4,
		Samples:   128,
		Full:      full,
	})
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestTrainerReducesLoss(t *testing.T) {
	ds := testDataset(t, false)
	model := NewModel(4, false)
	trainer := NewGradientTrainer(model, NewSGD(0.05, 0.9), 2, common.NewTestEntry(t, logrus.ErrorLevel))
	trainer.Epochs = 5

	before := trainer.EvalLoss(ds)

	if err := trainer.Train(ds); err != nil {
		t.Fatal(err)
	}

	after := trainer.EvalLoss(ds)
	if after >= before {
		t.Fatalf("loss did not decrease: %f -> %f", before, after)
	}
}

func TestDatasetDeterminismAndSharding(t *testing.T) {
	a := testDataset(t, false)
	b := testDataset(t, false)

	if len(a.Trainset()) != 128 {
		t.Fatalf("shard size: got %d, want 128", len(a.Trainset()))
	}
	for i := range a.Trainset() {
		if a.Trainset()[i].Y != b.Trainset()[i].Y {
			t.Fatal("same seed produced different samples")
		}
	}

	full := testDataset(t, true)
	if len(full.Trainset()) != 256 {
		t.Fatalf("full dataset size: got %d, want 256", len(full.Trainset()))
	}
}

func TestOptimizerReset(t *testing.T) {
	opt := NewSGD(0.1, 0.9)
	params := []float64{1, 1}

	opt.Step(params, []float64{1, 1})
	if opt.velocity == nil {
		t.Fatal("expected momentum state after a step")
	}

	opt.Reset()
	if opt.velocity != nil {
		t.Fatal("expected momentum state cleared after reset")
	}
}

func TestSharedParameterCounter(t *testing.T) {
	m := NewModel(3, true)
	m.RecordShared()
	m.RecordShared()

	for i, c := range m.SharedParametersCounter() {
		if c != 2 {
			t.Fatalf("counter[%d] = %d, want 2", i, c)
		}
	}

	untracked := NewModel(3, false)
	untracked.RecordShared()
	if untracked.SharedParametersCounter() != nil {
		t.Fatal("untracked model should report nil counters")
	}
}

func TestRegistry(t *testing.T) {
	if _, err := NewDataset("synthetic", DatasetConfig{Mapping: mapping.NewLinear(1, 1)}); err != nil {
		t.Fatal(err)
	}
	if _, err := NewDataset("imagenet", DatasetConfig{}); err == nil {
		t.Fatal("expected error for unregistered dataset")
	}

	model := NewModel(2, false)
	if _, err := NewTrainer("gradient", TrainerConfig{Model: model, Optimizer: NewSGD(0.1, 0)}); err != nil {
		t.Fatal(err)
	}
}
