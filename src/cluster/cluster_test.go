package cluster

import (
	"io/ioutil"
	"math"
	"os"
	"testing"
	"time"

	"github.com/meshlearn/meshlearn/src/common"
	"github.com/meshlearn/meshlearn/src/graph"
	"github.com/meshlearn/meshlearn/src/mapping"
	"github.com/meshlearn/meshlearn/src/node"
	"github.com/sirupsen/logrus"
)

func testDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "cluster_test")
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestEarlyStopFlag(t *testing.T) {
	dir := testDir(t)
	defer os.RemoveAll(dir)

	flag := NewEarlyStopFlag(dir)

	if flag.Raised() {
		t.Fatal("fresh flag should be lowered")
	}
	if err := flag.Reset(); err != nil {
		t.Fatalf("resetting a lowered flag: %v", err)
	}

	if err := flag.Raise(); err != nil {
		t.Fatal(err)
	}
	if err := flag.Raise(); err != nil {
		t.Fatalf("raising a raised flag: %v", err)
	}
	if !flag.Raised() {
		t.Fatal("flag should be raised")
	}

	if err := flag.Reset(); err != nil {
		t.Fatal(err)
	}
	if flag.Raised() {
		t.Fatal("flag should be lowered after reset")
	}
}

func TestLossThresholdDetector(t *testing.T) {
	d := &LossThresholdDetector{Threshold: 10}

	mk := func(losses map[int]float64) map[int]*node.Results {
		res := node.NewResults()
		res.TrainLoss = losses
		return map[int]*node.Results{0: res}
	}

	if d.Diverged(mk(map[int]float64{1: 0.5, 2: 0.1})) {
		t.Fatal("small loss flagged as divergence")
	}
	if !d.Diverged(mk(map[int]float64{1: 0.5, 2: 42})) {
		t.Fatal("loss above threshold not flagged")
	}
	if !d.Diverged(mk(map[int]float64{1: 0.5, 2: math.NaN()})) {
		t.Fatal("NaN loss not flagged")
	}
	if d.Diverged(mk(map[int]float64{1: 42, 2: 0.5})) {
		t.Fatal("detector should only consider the most recent loss")
	}
	if d.Diverged(map[int]*node.Results{}) {
		t.Fatal("empty results flagged as divergence")
	}
}

// divergeOnce flags the first attempt and passes every later one.
type divergeOnce struct {
	fired bool
}

func (d *divergeOnce) Diverged(map[int]*node.Results) bool {
	if d.fired {
		return false
	}
	d.fired = true
	return true
}

func TestRestartOnDivergence(t *testing.T) {
	dir := testDir(t)
	defer os.RemoveAll(dir)

	nProcs := 2
	m := mapping.NewLinear(1, nProcs)
	g := graph.NewRing(nProcs)

	template := node.DefaultConfig()
	template.Iterations = 1
	template.BasePort = 23300
	template.LogDir = dir
	template.WeightsDir = dir
	template.CentralizedTestEval = false
	template.Logger = common.NewTestEntry(t, logrus.DebugLevel)

	ctl, err := NewController(&Config{
		Node:         template,
		Mapping:      m,
		Graph:        g,
		Detector:     &divergeOnce{},
		RestartPause: 10 * time.Millisecond,
		Logger:       common.NewTestEntry(t, logrus.DebugLevel),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := ctl.Run(); err != nil {
		t.Fatal(err)
	}

	if ctl.Restarts() != 1 {
		t.Fatalf("expected exactly 1 restart, got %d", ctl.Restarts())
	}

	wantSeed := node.DefaultSeed + int64(DefaultSeedBump)
	if ctl.Seed() != wantSeed {
		t.Fatalf("expected seed %d after restart, got %d", wantSeed, ctl.Seed())
	}

	if ctl.Flag().Raised() {
		t.Fatal("flag should be lowered after a clean final attempt")
	}
}

func TestExecLauncherArgs(t *testing.T) {
	m := mapping.NewLinear(2, 3)

	conf := node.DefaultConfig()
	conf.Rank = 1
	conf.MachineID = 1
	conf.Seed = 97
	conf.ResetOptimizer = true

	l := &ExecLauncher{GraphFile: "topology.json"}
	args := l.args(conf, m)

	if args[0] != "node" {
		t.Fatalf("expected hidden node subcommand, got %q", args[0])
	}

	want := map[string]string{
		"--rank":              "1",
		"--machine-id":        "1",
		"--n-machines":        "2",
		"--procs-per-machine": "3",
		"--graph-file":        "topology.json",
		"--seed":              "97",
	}
	got := map[string]string{}
	for i := 1; i < len(args)-1; i++ {
		got[args[i]] = args[i+1]
	}
	for flag, val := range want {
		if got[flag] != val {
			t.Fatalf("expected %s %s, got %q", flag, val, got[flag])
		}
	}

	var foundReset, foundCentralized bool
	for _, a := range args {
		if a == "--reset-optimizer=true" {
			foundReset = true
		}
		if a == "--centralized-test-eval=true" {
			foundCentralized = true
		}
	}
	if !foundReset {
		t.Fatal("missing --reset-optimizer=true")
	}
	if !foundCentralized {
		t.Fatal("missing --centralized-test-eval=true")
	}
}
