package commands

import (
	"github.com/meshlearn/meshlearn/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for meshlearn
var RootCmd = &cobra.Command{
	Use:              "meshlearn",
	Short:            "decentralized learning",
	TraverseChildren: true,
}
