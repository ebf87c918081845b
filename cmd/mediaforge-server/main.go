// Command mediaforge-server is the download/transcode service's
// entrypoint: serve runs the HTTP API, migrate applies pending Postgres
// migrations, version prints the build identifier. Subcommand wiring
// follows the teacher's NewRootCommand/AddCommand-per-function idiom.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var buildVersion = "dev"

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCommand builds the mediaforge-server CLI.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "mediaforge-server",
		Short: "Download and transcode service",
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mediaforge-server %s\n", buildVersion)
		},
	}
}
