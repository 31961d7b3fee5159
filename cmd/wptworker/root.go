package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/cryguy/wptworker"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wptworker",
		Short: "Run Web Platform Tests in an embedded JavaScript engine",
		Long: `wptworker runs WPT test files (.any.js, .window.js, .worker.js, .html)
one per isolated environment and reports each file's test results.

Examples:
  wptworker run --root ./wpt fetch/api/basic
  wptworker run -j 8 --db results.db --format yaml url/url-constructor.any.js
  wptworker runs --db results.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newRunsCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and the compiled-in engine",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wptworker %s (%s)\n", version(), wptworker.EngineName)
		},
	}
}

func version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "(devel)"
	}
	return info.Main.Version
}
