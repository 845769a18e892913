package cluster

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/meshlearn/meshlearn/src/graph"
	"github.com/meshlearn/meshlearn/src/mapping"
	"github.com/meshlearn/meshlearn/src/node"
)

// Process is a handle on one launched node.
type Process interface {
	// Wait blocks until the node terminates and returns its error, if any.
	Wait() error
}

// Launcher starts one node process per call. The two implementations differ
// only in isolation: ExecLauncher forks real OS processes, LocalLauncher runs
// nodes as goroutines inside the calling process. Controllers work the same
// against either.
type Launcher interface {
	Launch(conf *node.Config, m mapping.Mapping, g *graph.Graph) (Process, error)
}

//------------------------------------------------------------------------------

// LocalLauncher runs nodes in-process. It is the launcher of choice for tests
// and single-machine experiments where process isolation buys nothing.
type LocalLauncher struct{}

type localProcess struct {
	errCh chan error
}

// Launch implements the Launcher interface.
func (l *LocalLauncher) Launch(conf *node.Config, m mapping.Mapping, g *graph.Graph) (Process, error) {
	n, err := node.NewNode(conf, m, g)
	if err != nil {
		return nil, err
	}

	p := &localProcess{
		errCh: make(chan error, 1),
	}

	go func() {
		p.errCh <- n.Run()
	}()

	return p, nil
}

func (p *localProcess) Wait() error {
	return <-p.errCh
}

//------------------------------------------------------------------------------

// ExecLauncher re-executes the running binary with the hidden "node"
// subcommand, one OS process per rank. GraphFile must name a topology file
// every child can read.
type ExecLauncher struct {
	// Path is the binary to execute; empty means the running binary.
	Path string

	// GraphFile is the topology passed to every child.
	GraphFile string

	// Stdout and Stderr receive the children's output; nil means the
	// parent's.
	Stdout io.Writer
	Stderr io.Writer
}

type execProcess struct {
	cmd *exec.Cmd
}

// Launch implements the Launcher interface.
func (l *ExecLauncher) Launch(conf *node.Config, m mapping.Mapping, g *graph.Graph) (Process, error) {
	path := l.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, err
		}
		path = exe
	}

	cmd := exec.Command(path, l.args(conf, m)...)

	cmd.Stdout = l.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = l.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &execProcess{cmd: cmd}, nil
}

// args maps a node config onto the "node" subcommand's flags.
func (l *ExecLauncher) args(conf *node.Config, m mapping.Mapping) []string {
	args := []string{
		"node",
		"--rank", fmt.Sprint(conf.Rank),
		"--machine-id", fmt.Sprint(conf.MachineID),
		"--n-machines", fmt.Sprint(m.NProcs() / m.ProcsPerMachine()),
		"--procs-per-machine", fmt.Sprint(m.ProcsPerMachine()),
		"--graph-file", l.GraphFile,
		"--iterations", fmt.Sprint(conf.Iterations),
		"--log-dir", conf.LogDir,
		"--weights-dir", conf.WeightsDir,
		"--test-after", fmt.Sprint(conf.TestAfter),
		"--train-evaluate-after", fmt.Sprint(conf.TrainEvaluateAfter),
		"--base-port", fmt.Sprint(conf.BasePort),
		"--seed", fmt.Sprint(conf.Seed),
		"--dim", fmt.Sprint(conf.Dim),
		"--samples", fmt.Sprint(conf.Samples),
		"--epochs", fmt.Sprint(conf.Epochs),
		"--batch-size", fmt.Sprint(conf.BatchSize),
		"--lr", fmt.Sprint(conf.LR),
		"--momentum", fmt.Sprint(conf.Momentum),
		"--channel", conf.Channel,
		"--aggregator", conf.Aggregator,
		"--dataset", conf.Dataset,
		"--trainer", conf.Trainer,
		"--weight-store", conf.WeightStore,
	}

	if conf.AddressesFile != "" {
		args = append(args, "--addresses-file", conf.AddressesFile)
	}

	// bool flags are passed explicitly because their defaults are not all
	// false
	args = append(args,
		fmt.Sprintf("--reset-optimizer=%t", conf.ResetOptimizer),
		fmt.Sprintf("--centralized-test-eval=%t", conf.CentralizedTestEval),
		fmt.Sprintf("--centralized-train-eval=%t", conf.CentralizedTrainEval),
		fmt.Sprintf("--track-shared-parameters=%t", conf.TrackSharedParameters),
	)

	return args
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}
