// Package node implements the per-process state machine that drives the
// round loop: local training, neighbor exchange over the main graph,
// periodic evaluation (locally or through UID 0 over the star overlay), and
// per-round persistence of the results record.
package node

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"

	"github.com/meshlearn/meshlearn/src/comm"
	"github.com/meshlearn/meshlearn/src/graph"
	"github.com/meshlearn/meshlearn/src/mapping"
	"github.com/meshlearn/meshlearn/src/sharing"
	"github.com/meshlearn/meshlearn/src/store"
	"github.com/meshlearn/meshlearn/src/training"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Node owns one UID and drives its round loop.
type Node struct {
	state

	conf   *Config
	logger *logrus.Entry

	uid     int
	mapping mapping.Mapping
	graph   *graph.Graph
	star    *graph.Graph

	mainCh comm.Channel
	evalCh comm.Channel

	model    *training.Model
	dataset  training.Dataset
	trainer  training.Trainer
	sharing  *sharing.Sharing
	weights  store.WeightStore
	results  *Results
	threads  int
	newOptim func() training.Optimizer
}

// NewNode constructs a node and everything it owns. Configuration conflicts
// fail here, before either channel binds a port. The two channels live on
// disjoint address spaces: the main overlay at offset 0 and the star overlay
// at an offset equal to the star's process count.
func NewNode(conf *Config, m mapping.Mapping, g *graph.Graph) (*Node, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	uid, err := m.GetUID(conf.Rank, conf.MachineID)
	if err != nil {
		return nil, err
	}

	logger := conf.Logger
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.InfoLevel
		logger = logrus.NewEntry(log)
	}
	logger = logger.WithField("uid", uid)

	star := graph.NewStar(m.NProcs())

	mainCh, err := comm.New(conf.Channel, comm.Config{
		Rank:          conf.Rank,
		MachineID:     conf.MachineID,
		Mapping:       m,
		AddressesFile: conf.AddressesFile,
		BasePort:      conf.BasePort,
		Offset:        0,
		Logger:        logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "main channel")
	}

	evalCh, err := comm.New(conf.Channel, comm.Config{
		Rank:          conf.Rank,
		MachineID:     conf.MachineID,
		Mapping:       m,
		AddressesFile: conf.AddressesFile,
		BasePort:      conf.BasePort,
		Offset:        star.NProcs(),
		Logger:        logger,
	})
	if err != nil {
		mainCh.DisconnectNeighbors()
		return nil, errors.Wrap(err, "evaluation channel")
	}

	// both listeners are bound now; if any later construction step fails
	// they must be released, or the node's ports stay occupied for the life
	// of the process
	ok := false
	defer func() {
		if !ok {
			mainCh.DisconnectNeighbors()
			evalCh.DisconnectNeighbors()
		}
	}()

	model := training.NewModel(conf.Dim, conf.TrackSharedParameters)

	dataset, err := training.NewDataset(conf.Dataset, training.DatasetConfig{
		Rank:      conf.Rank,
		MachineID: conf.MachineID,
		Mapping:   m,
		Seed:      conf.Seed,
		Dim:       conf.Dim,
		Samples:   conf.Samples,
	})
	if err != nil {
		return nil, errors.Wrap(err, "dataset")
	}

	newOptim := func() training.Optimizer {
		return training.NewSGD(conf.LR, conf.Momentum)
	}

	threads := training.ThreadsPerProc(m)

	trainer, err := training.NewTrainer(conf.Trainer, training.TrainerConfig{
		Model:     model,
		Optimizer: newOptim(),
		Threads:   threads,
		Epochs:    conf.Epochs,
		BatchSize: conf.BatchSize,
		Logger:    logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "trainer")
	}

	agg, err := sharing.NewAggregator(conf.Aggregator)
	if err != nil {
		return nil, err
	}

	sh, err := sharing.NewSharing(conf.Rank, conf.MachineID, m, mainCh, g, model, agg, logger)
	if err != nil {
		return nil, err
	}

	weights, err := store.New(conf.WeightStore, conf.WeightsDir)
	if err != nil {
		return nil, errors.Wrap(err, "weight store")
	}

	n := &Node{
		conf:     conf,
		logger:   logger,
		uid:      uid,
		mapping:  m,
		graph:    g,
		star:     star,
		mainCh:   mainCh,
		evalCh:   evalCh,
		model:    model,
		dataset:  dataset,
		trainer:  trainer,
		sharing:  sh,
		weights:  weights,
		results:  NewResults(),
		threads:  threads,
		newOptim: newOptim,
	}

	logger.WithFields(logrus.Fields{
		"rank":    conf.Rank,
		"machine": conf.MachineID,
		"threads": threads,
		"procs":   m.NProcs(),
	}).Info("Node created")

	ok = true

	return n, nil
}

// UID returns the node's global identity.
func (n *Node) UID() int {
	return n.uid
}

// Model exposes the node's model, mainly for tests and reporting.
func (n *Node) Model() *training.Model {
	return n.model
}

// EvalChannel exposes the star-overlay channel, mainly for tests.
func (n *Node) EvalChannel() comm.Channel {
	return n.evalCh
}

// Run executes the full round loop and blocks until the node terminates.
func (n *Node) Run() error {
	if err := n.connect(); err != nil {
		return err
	}

	var helper *TrainTestHelper
	if n.uid == 0 && n.conf.CentralizedTestEval {
		evalDS := n.dataset
		if n.conf.CentralizedTrainEval {
			full, err := training.NewDataset(n.conf.Dataset, training.DatasetConfig{
				Rank:      n.conf.Rank,
				MachineID: n.conf.MachineID,
				Mapping:   n.mapping,
				Seed:      n.conf.Seed,
				Dim:       n.conf.Dim,
				Samples:   n.conf.Samples,
				Full:      true,
			})
			if err != nil {
				return errors.Wrap(err, "whole dataset for centralized train eval")
			}
			evalDS = full
		}
		helper = NewTrainTestHelper(n.evalCh, n.star, n.model, evalDS, n.conf.CentralizedTrainEval, n.logger)
	}

	roundsToTest := n.conf.TestAfter
	roundsToTrainEvaluate := n.conf.TrainEvaluateAfter
	globalEpoch := 1
	change := 1

	for it := 1; it <= n.conf.Iterations; it++ {
		n.logger.WithField("iteration", it).Info("Starting training iteration")

		n.setState(Training)
		if err := n.trainer.Train(n.dataset); err != nil {
			return errors.Wrapf(err, "iteration %d", it)
		}

		n.setState(Exchanging)
		if err := n.sharing.Step(it); err != nil {
			return errors.Wrapf(err, "iteration %d", it)
		}

		if n.conf.ResetOptimizer {
			n.trainer.ResetOptimizer(n.newOptim())
		}

		n.results.TotalBytes[it] = n.mainCh.TotalBytes()
		n.results.TotalMeta[it] = n.mainCh.TotalMeta()
		n.results.TotalDataPerN[it] = n.mainCh.TotalData()
		n.results.GradMean[it] = n.sharing.Mean()
		n.results.GradStd[it] = n.sharing.Std()

		roundsToTrainEvaluate--
		if roundsToTrainEvaluate == 0 && !n.conf.CentralizedTrainEval {
			n.logger.Info("Evaluating on train set")
			roundsToTrainEvaluate = n.conf.TrainEvaluateAfter * change
			n.results.TrainLoss[it] = n.trainer.EvalLoss(n.dataset)
		}

		roundsToTest--
		if n.dataset.Testing() && roundsToTest == 0 {
			roundsToTest = n.conf.TestAfter * change

			n.setState(Evaluating)
			if err := n.evaluate(it, helper); err != nil {
				return err
			}

			if globalEpoch == 49 {
				change *= 2
			}
			globalEpoch += change
		}

		if err := n.results.WriteFile(n.conf.LogDir, n.conf.Rank); err != nil {
			return errors.Wrapf(err, "writing results after iteration %d", it)
		}
	}

	return n.finalize()
}

// connect brings up both overlays. The star overlay reuses the address
// scheme with an offset of star.NProcs(), so its ports can never collide
// with the main overlay's.
func (n *Node) connect() error {
	if err := n.mainCh.ConnectNeighbors(n.graph.Neighbors(n.uid)); err != nil {
		return errors.Wrap(err, "connecting main overlay")
	}
	if err := n.evalCh.ConnectNeighbors(n.star.Neighbors(n.uid)); err != nil {
		return errors.Wrap(err, "connecting star overlay")
	}

	n.setState(Connected)
	n.logger.Info("Both overlays connected")

	return nil
}

// evaluate runs one scheduled evaluation: local, or centralized through
// UID 0 over the star overlay.
func (n *Node) evaluate(it int, helper *TrainTestHelper) error {
	if !n.conf.CentralizedTestEval {
		n.logger.Info("Evaluating on test set")
		ta, tl := n.dataset.Test(n.model)
		n.results.TestAcc[it] = ta
		n.results.TestLoss[it] = tl
		return nil
	}

	if n.uid == 0 {
		ta, tl, trl, err := helper.Run(it)
		if err != nil {
			return err
		}
		n.results.TestAcc[it] = ta
		n.results.TestLoss[it] = tl
		if trl != nil {
			n.results.TrainLoss[it] = *trl
		}
		return nil
	}

	return submitWeights(n.evalCh, n.model, it)
}

// finalize disconnects both overlays and persists final state.
func (n *Node) finalize() error {
	n.setState(Finalizing)

	if counts := n.model.SharedParametersCounter(); counts != nil {
		n.logger.Info("Saving the shared parameter counts")
		if err := writeSharedParameters(n.conf.LogDir, n.conf.Rank, counts); err != nil {
			return err
		}
	}

	n.mainCh.DisconnectNeighbors()
	n.evalCh.DisconnectNeighbors()

	n.logger.Info("Storing final weights")
	if err := n.weights.SaveWeights(n.uid, n.conf.Iterations, n.model.Weights()); err != nil {
		return err
	}
	if err := n.weights.Close(); err != nil {
		return err
	}

	n.setState(Terminated)
	n.logger.Info("All neighbors disconnected. Process complete!")

	return nil
}

func writeSharedParameters(logDir string, rank int, counts []int64) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(counts); err != nil {
		return err
	}

	path := filepath.Join(logDir, fmt.Sprintf("%d_shared_parameters.json", rank))
	return ioutil.WriteFile(path, buf.Bytes(), 0644)
}
