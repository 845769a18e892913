// Package config defines the top-level configuration of a meshlearn
// deployment: where data lives, how many machines and processes make up the
// group, which topology they form, and the per-process training parameters.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/meshlearn/meshlearn/src/common"
	"github.com/meshlearn/meshlearn/src/mapping"
	"github.com/meshlearn/meshlearn/src/node"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames, relative to the data directory.
const (
	// DefaultGraphFile is the default name of the topology file.
	DefaultGraphFile = "graph.json"

	// DefaultLogDirName is the default name of the folder receiving per-rank
	// log and results files.
	DefaultLogDirName = "logs"

	// DefaultWeightsDirName is the default name of the folder receiving
	// weight snapshots.
	DefaultWeightsDirName = "weights"
)

// Default configuration values.
const (
	DefaultLogLevel        = "debug"
	DefaultNMachines       = 1
	DefaultProcsPerMachine = 1
	DefaultGraphDegree     = 2
)

// Config contains all the configuration properties of a meshlearn
// deployment. The per-process training knobs live in the embedded node
// config.
type Config struct {
	// DataDir is the top-level directory containing meshlearn configuration
	// and data.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// NMachines is the number of machines in the deployment.
	NMachines int `mapstructure:"n-machines"`

	// ProcsPerMachine is the number of node processes each machine runs.
	ProcsPerMachine int `mapstructure:"procs-per-machine"`

	// GraphFile is the topology file. When it does not exist, a random
	// regular topology of degree GraphDegree is generated from the seed and
	// written there, so every machine derives the same graph.
	GraphFile string `mapstructure:"graph-file"`

	// GraphDegree is the degree of the generated regular topology.
	GraphDegree int `mapstructure:"graph-degree"`

	// MaxLoss is the divergence threshold for the restart controller; zero
	// disables divergence detection.
	MaxLoss float64 `mapstructure:"max-loss"`

	// RestartPause is how long the controller waits before respawning a
	// diverged group; zero means the controller default.
	RestartPause time.Duration `mapstructure:"restart-pause"`

	// Local runs the process group as goroutines instead of OS processes.
	Local bool `mapstructure:"local"`

	// Node carries the per-process training parameters.
	Node node.Config `mapstructure:",squash"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:         DefaultDataDir(),
		LogLevel:        DefaultLogLevel,
		NMachines:       DefaultNMachines,
		ProcsPerMachine: DefaultProcsPerMachine,
		GraphDegree:     DefaultGraphDegree,
		Node:            *node.DefaultConfig(),
	}

	config.GraphFile = filepath.Join(config.DataDir, DefaultGraphFile)
	config.Node.LogDir = filepath.Join(config.DataDir, DefaultLogDirName)
	config.Node.WeightsDir = filepath.Join(config.DataDir, DefaultWeightsDirName)

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level meshlearn directory and updates the derived
// paths that are still set to their default values. Paths the user set
// explicitly are left alone.
func (c *Config) SetDataDir(dataDir string) {
	oldDefault := NewDefaultConfig()

	if c.GraphFile == oldDefault.GraphFile {
		c.GraphFile = filepath.Join(dataDir, DefaultGraphFile)
	}
	if c.Node.LogDir == oldDefault.Node.LogDir {
		c.Node.LogDir = filepath.Join(dataDir, DefaultLogDirName)
	}
	if c.Node.WeightsDir == oldDefault.Node.WeightsDir {
		c.Node.WeightsDir = filepath.Join(dataDir, DefaultWeightsDirName)
	}

	c.DataDir = dataDir
}

// Mapping returns the linear mapping implied by the deployment shape.
func (c *Config) Mapping() *mapping.Linear {
	return mapping.NewLinear(c.NMachines, c.ProcsPerMachine)
}

// Logger returns a formatted logrus Entry with prefix set to "meshlearn".
// When the log directory is set, everything is also written to the
// per-rank log file inside it.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.Node.LogDir != "" {
			path := filepath.Join(c.Node.LogDir, fmt.Sprintf("%d.log", c.Node.Rank))
			c.logger.Hooks.Add(lfshook.NewHook(path, &logrus.JSONFormatter{}))
		}
	}
	return c.logger.WithField("prefix", "meshlearn")
}

// DefaultDataDir return the default directory name for top-level meshlearn
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Meshlearn")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Meshlearn")
		} else {
			return filepath.Join(home, ".meshlearn")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
