package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

//NewGraphCmd returns the command that generates the topology file up-front,
//for inspection or for editing before a run
func NewGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "graph",
		Short:   "Generate the topology file",
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ensureDirs(); err != nil {
				return err
			}

			g, err := loadOrCreateGraph()
			if err != nil {
				return err
			}

			fmt.Printf("%s: %d processes\n", _config.GraphFile, g.NProcs())
			return nil
		},
	}
	AddRunFlags(cmd)
	return cmd
}
