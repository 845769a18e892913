package cluster

import (
	"time"

	"github.com/meshlearn/meshlearn/src/graph"
	"github.com/meshlearn/meshlearn/src/mapping"
	"github.com/meshlearn/meshlearn/src/node"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Default restart parameters.
const (
	// DefaultSeedBump is added to the seed on every restart, so no two
	// attempts ever share a dataset or topology draw.
	DefaultSeedBump = 123456

	// DefaultRestartPause is how long the controller waits before
	// respawning, giving the previous attempt's sockets time to drain.
	DefaultRestartPause = 10 * time.Second
)

// Config parameterises a Controller.
type Config struct {
	// MachineID is the machine this controller manages. It spawns one
	// process per rank in [0, ProcsPerMachine).
	MachineID int

	// Node is the per-process configuration template. Rank and Seed are
	// overwritten per process and per attempt.
	Node *node.Config

	// Mapping and Graph define the deployment; every spawned process gets
	// the same pair.
	Mapping mapping.Mapping
	Graph   *graph.Graph

	// Launcher starts processes; nil means in-process.
	Launcher Launcher

	// Detector inspects each finished attempt's results; nil disables
	// divergence detection, leaving only externally-raised flags.
	Detector Detector

	// SeedBump and RestartPause override the restart defaults when
	// non-zero.
	SeedBump     int64
	RestartPause time.Duration

	Logger *logrus.Entry
}

// Controller runs one machine's process group to completion, restarting the
// whole group with a bumped seed for as long as the early-stop flag comes up
// raised.
type Controller struct {
	conf     *Config
	flag     *EarlyStopFlag
	logger   *logrus.Entry
	seed     int64
	restarts int
}

// NewController builds a controller over a validated node template.
func NewController(conf *Config) (*Controller, error) {
	if conf.Node == nil {
		return nil, errors.New("cluster: nil node config")
	}
	if err := conf.Node.Validate(); err != nil {
		return nil, err
	}
	if conf.Mapping == nil || conf.Graph == nil {
		return nil, errors.New("cluster: mapping and graph are required")
	}

	if conf.Launcher == nil {
		conf.Launcher = &LocalLauncher{}
	}
	if conf.SeedBump == 0 {
		conf.SeedBump = DefaultSeedBump
	}
	if conf.RestartPause == 0 {
		conf.RestartPause = DefaultRestartPause
	}

	logger := conf.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	logger = logger.WithField("machine", conf.MachineID)

	return &Controller{
		conf:   conf,
		flag:   NewEarlyStopFlag(conf.Node.LogDir),
		logger: logger,
		seed:   conf.Node.Seed,
	}, nil
}

// Flag returns the controller's early-stop flag.
func (c *Controller) Flag() *EarlyStopFlag {
	return c.flag
}

// Seed returns the seed of the last attempt.
func (c *Controller) Seed() int64 {
	return c.seed
}

// Restarts returns how many times the group was respawned.
func (c *Controller) Restarts() int {
	return c.restarts
}

// Run spawns the group and joins it, restarting with seed += SeedBump for as
// long as the early-stop flag is raised when the group comes down. It returns
// the first process error of the final attempt.
func (c *Controller) Run() error {
	for {
		if err := c.flag.Reset(); err != nil {
			return errors.Wrap(err, "resetting early-stop flag")
		}

		c.logger.WithFields(logrus.Fields{
			"seed":    c.seed,
			"attempt": c.restarts + 1,
		}).Info("Spawning process group")

		if err := c.runAttempt(); err != nil {
			return err
		}

		if c.conf.Detector != nil {
			results := c.loadResults()
			if c.conf.Detector.Diverged(results) {
				c.logger.Warn("Divergence detected")
				if err := c.flag.Raise(); err != nil {
					return errors.Wrap(err, "raising early-stop flag")
				}
			}
		}

		if !c.flag.Raised() {
			c.logger.Info("Process group complete")
			return nil
		}

		c.restarts++
		c.seed += c.conf.SeedBump

		c.logger.WithFields(logrus.Fields{
			"seed":  c.seed,
			"pause": c.conf.RestartPause,
		}).Warn("Early stop raised. Restarting process group")

		time.Sleep(c.conf.RestartPause)
	}
}

// runAttempt spawns one process per rank and joins them all. Launch failures
// and process failures alike abort the attempt; whatever already started is
// still joined so no process leaks.
func (c *Controller) runAttempt() error {
	ppm := c.conf.Mapping.ProcsPerMachine()

	procs := make([]Process, 0, ppm)
	var launchErr error

	for rank := 0; rank < ppm; rank++ {
		conf := *c.conf.Node
		conf.Rank = rank
		conf.MachineID = c.conf.MachineID
		conf.Seed = c.seed

		p, err := c.conf.Launcher.Launch(&conf, c.conf.Mapping, c.conf.Graph)
		if err != nil {
			launchErr = errors.Wrapf(err, "launching rank %d", rank)
			break
		}
		procs = append(procs, p)
	}

	var firstErr error
	for rank, p := range procs {
		if err := p.Wait(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "rank %d", rank)
		}
	}

	if launchErr != nil {
		return launchErr
	}
	return firstErr
}

// loadResults reads whatever per-rank results files the attempt left behind.
// Missing or unparsable files are skipped; the detector sees what exists.
func (c *Controller) loadResults() map[int]*node.Results {
	results := map[int]*node.Results{}
	for rank := 0; rank < c.conf.Mapping.ProcsPerMachine(); rank++ {
		res, err := node.LoadResults(c.conf.Node.LogDir, rank)
		if err != nil {
			continue
		}
		results[rank] = res
	}
	return results
}
