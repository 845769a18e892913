package node

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrConfigurationConflict is returned when centralized train evaluation is
// requested without centralized test evaluation. It surfaces at construction,
// before any network activity.
var ErrConfigurationConflict = errors.New("centralized train evaluation requires centralized test evaluation")

// Default configuration values.
const (
	DefaultIterations         = 1
	DefaultTestAfter          = 5
	DefaultTrainEvaluateAfter = 1
	DefaultChannel            = "tcp"
	DefaultAggregator         = "average"
	DefaultDataset            = "synthetic"
	DefaultTrainer            = "gradient"
	DefaultWeightStore        = "file"
	DefaultSeed               = 97
	DefaultDim                = 8
	DefaultSamples            = 64
	DefaultEpochs             = 1
	DefaultBatchSize          = 16
	DefaultLR                 = 0.01
	DefaultMomentum           = 0.9
)

// Config contains all the configuration properties of a node.
type Config struct {
	// Rank is the process index local to its machine.
	Rank int `mapstructure:"rank"`

	// MachineID is the machine the process runs on.
	MachineID int `mapstructure:"machine-id"`

	// Iterations is the number of rounds to run.
	Iterations int `mapstructure:"iterations"`

	// LogDir receives the per-rank log and results files.
	LogDir string `mapstructure:"log-dir"`

	// WeightsDir receives weight snapshots.
	WeightsDir string `mapstructure:"weights-dir"`

	// TestAfter is the number of rounds between test-set evaluations.
	TestAfter int `mapstructure:"test-after"`

	// TrainEvaluateAfter is the number of rounds between train-loss
	// evaluations.
	TrainEvaluateAfter int `mapstructure:"train-evaluate-after"`

	// ResetOptimizer discards optimizer state after every exchange.
	ResetOptimizer bool `mapstructure:"reset-optimizer"`

	// CentralizedTestEval routes test evaluation through UID 0 over the
	// star overlay.
	CentralizedTestEval bool `mapstructure:"centralized-test-eval"`

	// CentralizedTrainEval additionally routes train evaluation through
	// UID 0. Requires CentralizedTestEval.
	CentralizedTrainEval bool `mapstructure:"centralized-train-eval"`

	// TrackSharedParameters enables the per-parameter exchange counters.
	TrackSharedParameters bool `mapstructure:"track-shared-parameters"`

	// Channel, Aggregator, Dataset, Trainer, and WeightStore select
	// registered implementations by name.
	Channel     string `mapstructure:"channel"`
	Aggregator  string `mapstructure:"aggregator"`
	Dataset     string `mapstructure:"dataset"`
	Trainer     string `mapstructure:"trainer"`
	WeightStore string `mapstructure:"weight-store"`

	// AddressesFile optionally maps machine IDs to hosts; empty means
	// localhost.
	AddressesFile string `mapstructure:"addresses-file"`

	// BasePort is the start of the port range; a node listens on
	// BasePort + overlay offset + uid.
	BasePort int `mapstructure:"base-port"`

	// Seed drives dataset generation and the topology generator.
	Seed int64 `mapstructure:"seed"`

	// Numeric knobs for the builtin trainer and dataset.
	Dim       int     `mapstructure:"dim"`
	Samples   int     `mapstructure:"samples"`
	Epochs    int     `mapstructure:"epochs"`
	BatchSize int     `mapstructure:"batch-size"`
	LR        float64 `mapstructure:"lr"`
	Momentum  float64 `mapstructure:"momentum"`

	// Logger is scoped to the owning process; components derive their own
	// entries from it.
	Logger *logrus.Entry `mapstructure:"-"`
}

// DefaultConfig returns a config object with default values.
func DefaultConfig() *Config {
	return &Config{
		Iterations:          DefaultIterations,
		LogDir:              ".",
		WeightsDir:          ".",
		TestAfter:           DefaultTestAfter,
		TrainEvaluateAfter:  DefaultTrainEvaluateAfter,
		CentralizedTestEval: true,
		Channel:             DefaultChannel,
		Aggregator:          DefaultAggregator,
		Dataset:             DefaultDataset,
		Trainer:             DefaultTrainer,
		WeightStore:         DefaultWeightStore,
		Seed:                DefaultSeed,
		Dim:                 DefaultDim,
		Samples:             DefaultSamples,
		Epochs:              DefaultEpochs,
		BatchSize:           DefaultBatchSize,
		LR:                  DefaultLR,
		Momentum:            DefaultMomentum,
	}
}

// Validate fails fast on configurations that must never reach the network.
func (c *Config) Validate() error {
	if c.CentralizedTrainEval && !c.CentralizedTestEval {
		return ErrConfigurationConflict
	}
	if c.Iterations < 1 {
		return errors.Errorf("iterations must be positive, got %d", c.Iterations)
	}
	return nil
}
