package main

import (
	"os"

	cmd "github.com/meshlearn/meshlearn/cmd/meshlearn/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.NewGraphCmd(),
		cmd.NewRunCmd(),
		cmd.NewNodeCmd(),
		cmd.VersionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
