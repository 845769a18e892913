package commands

import (
	"github.com/meshlearn/meshlearn/src/graph"
	"github.com/meshlearn/meshlearn/src/node"
	"github.com/spf13/cobra"
)

//NewNodeCmd returns the hidden command that runs a single node process. The
//run command spawns one of these per rank; it is not meant to be invoked by
//hand, but it can be, which is useful for multi-machine deployments driven
//by an external scheduler.
func NewNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "node",
		Short:   "Run a single node process",
		Hidden:  true,
		PreRunE: loadConfig,
		RunE:    runNode,
	}
	AddRunFlags(cmd)
	return cmd
}

func runNode(cmd *cobra.Command, args []string) error {
	if err := ensureDirs(); err != nil {
		return err
	}

	g, err := graph.FromFile(_config.GraphFile)
	if err != nil {
		return err
	}

	_config.Node.Logger = _config.Logger()

	n, err := node.NewNode(&_config.Node, _config.Mapping(), g)
	if err != nil {
		return err
	}

	return n.Run()
}
