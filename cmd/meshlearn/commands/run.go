package commands

import (
	"os"

	"github.com/meshlearn/meshlearn/src/cluster"
	"github.com/meshlearn/meshlearn/src/graph"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that runs this machine's process group
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run this machine's process group",
		PreRunE: loadConfig,
		RunE:    runGroup,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runGroup(cmd *cobra.Command, args []string) error {
	logger := _config.Logger()

	if err := ensureDirs(); err != nil {
		return err
	}

	m := _config.Mapping()

	g, err := loadOrCreateGraph()
	if err != nil {
		return err
	}

	var launcher cluster.Launcher
	if _config.Local {
		launcher = &cluster.LocalLauncher{}
	} else {
		launcher = &cluster.ExecLauncher{
			GraphFile: _config.GraphFile,
		}
	}

	var detector cluster.Detector
	if _config.MaxLoss > 0 {
		detector = &cluster.LossThresholdDetector{
			Threshold: _config.MaxLoss,
		}
	}

	ctl, err := cluster.NewController(&cluster.Config{
		MachineID:    _config.Node.MachineID,
		Node:         &_config.Node,
		Mapping:      m,
		Graph:        g,
		Launcher:     launcher,
		Detector:     detector,
		RestartPause: _config.RestartPause,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	return ctl.Run()
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")

	// Deployment
	cmd.Flags().Int("rank", _config.Node.Rank, "Process index on this machine")
	cmd.Flags().Int("machine-id", _config.Node.MachineID, "Machine index in the deployment")
	cmd.Flags().Int("n-machines", _config.NMachines, "Number of machines in the deployment")
	cmd.Flags().Int("procs-per-machine", _config.ProcsPerMachine, "Node processes per machine")
	cmd.Flags().String("graph-file", _config.GraphFile, "Topology file; generated if missing")
	cmd.Flags().Int("graph-degree", _config.GraphDegree, "Degree of the generated regular topology")
	cmd.Flags().String("addresses-file", _config.Node.AddressesFile, "Optional machine-id to host JSON file")
	cmd.Flags().Int("base-port", _config.Node.BasePort, "Start of the listen port range")
	cmd.Flags().Bool("local", _config.Local, "Run the group as goroutines instead of OS processes")

	// Round loop
	cmd.Flags().Int("iterations", _config.Node.Iterations, "Number of training rounds")
	cmd.Flags().Int("test-after", _config.Node.TestAfter, "Rounds between test evaluations")
	cmd.Flags().Int("train-evaluate-after", _config.Node.TrainEvaluateAfter, "Rounds between train-loss evaluations")
	cmd.Flags().Bool("reset-optimizer", _config.Node.ResetOptimizer, "Discard optimizer state after every exchange")
	cmd.Flags().Bool("centralized-test-eval", _config.Node.CentralizedTestEval, "Route test evaluation through uid 0")
	cmd.Flags().Bool("centralized-train-eval", _config.Node.CentralizedTrainEval, "Route train evaluation through uid 0")
	cmd.Flags().Bool("track-shared-parameters", _config.Node.TrackSharedParameters, "Count parameter exchanges")

	// Components
	cmd.Flags().String("channel", _config.Node.Channel, "Communication channel implementation")
	cmd.Flags().String("aggregator", _config.Node.Aggregator, "Weight aggregator implementation")
	cmd.Flags().String("dataset", _config.Node.Dataset, "Dataset implementation")
	cmd.Flags().String("trainer", _config.Node.Trainer, "Trainer implementation")
	cmd.Flags().String("weight-store", _config.Node.WeightStore, "Weight store implementation")

	// Paths
	cmd.Flags().String("log-dir", _config.Node.LogDir, "Directory for per-rank logs and results")
	cmd.Flags().String("weights-dir", _config.Node.WeightsDir, "Directory for weight snapshots")

	// Training
	cmd.Flags().Int64("seed", _config.Node.Seed, "Seed for the dataset and topology generators")
	cmd.Flags().Int("dim", _config.Node.Dim, "Model dimension")
	cmd.Flags().Int("samples", _config.Node.Samples, "Training samples per node")
	cmd.Flags().Int("epochs", _config.Node.Epochs, "Training epochs per round")
	cmd.Flags().Int("batch-size", _config.Node.BatchSize, "Training batch size")
	cmd.Flags().Float64("lr", _config.Node.LR, "Learning rate")
	cmd.Flags().Float64("momentum", _config.Node.Momentum, "SGD momentum")

	// Restarts
	cmd.Flags().Float64("max-loss", _config.MaxLoss, "Divergence threshold; 0 disables detection")
	cmd.Flags().Duration("restart-pause", _config.RestartPause, "Pause before respawning a diverged group")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not the derived paths, this will
	// move the derived paths inside the new datadir
	_config.SetDataDir(_config.DataDir)

	_config.Logger().WithFields(logrus.Fields{
		"DataDir":         _config.DataDir,
		"LogLevel":        _config.LogLevel,
		"NMachines":       _config.NMachines,
		"ProcsPerMachine": _config.ProcsPerMachine,
		"GraphFile":       _config.GraphFile,
		"GraphDegree":     _config.GraphDegree,
		"MaxLoss":         _config.MaxLoss,
		"Local":           _config.Local,
		"Rank":            _config.Node.Rank,
		"MachineID":       _config.Node.MachineID,
		"Iterations":      _config.Node.Iterations,
		"TestAfter":       _config.Node.TestAfter,
		"BasePort":        _config.Node.BasePort,
		"Seed":            _config.Node.Seed,
		"Channel":         _config.Node.Channel,
		"Dataset":         _config.Node.Dataset,
		"Trainer":         _config.Node.Trainer,
		"WeightStore":     _config.Node.WeightStore,
	}).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/meshlearn.toml (.json, .yaml also work)
	viper.SetConfigName("meshlearn")
	viper.AddConfigPath(_config.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from the config file
	return viper.Unmarshal(_config)
}

// ensureDirs creates the data, log, and weights directories.
func ensureDirs() error {
	for _, dir := range []string{_config.DataDir, _config.Node.LogDir, _config.Node.WeightsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// loadOrCreateGraph reads the topology file, generating and persisting a
// random regular topology when the file does not exist. Every machine runs
// the same generator with the same seed, so they agree on the topology even
// without sharing the file.
func loadOrCreateGraph() (*graph.Graph, error) {
	if _, err := os.Stat(_config.GraphFile); err == nil {
		return graph.FromFile(_config.GraphFile)
	}

	n := _config.Mapping().NProcs()

	var g *graph.Graph
	var err error
	if _config.GraphDegree >= n {
		g = graph.NewFullyConnected(n)
	} else {
		g, err = graph.NewRegular(n, _config.GraphDegree, _config.Node.Seed)
		if err != nil {
			return nil, err
		}
	}

	if err := g.WriteFile(_config.GraphFile); err != nil {
		return nil, err
	}

	return g, nil
}
