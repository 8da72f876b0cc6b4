// Package cli provides the command-line interface for signing and verifying
// documents.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// errInvalidSignatures makes the process exit with status 1 without
// printing anything further.
var errInvalidSignatures = errors.New("one or more signatures are invalid")

// GlobalFlags are shared by every command.
type GlobalFlags struct {
	ConfigFile string
}

// Run executes the CLI with the given arguments and exits with its status.
// This is the main entry point for the CLI.
func Run(args []string) {
	osExit(Execute(args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// Execute runs the command line args and returns the exit status.
func Execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		if !errors.Is(err, errInvalidSignatures) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var flags GlobalFlags

	root := &cobra.Command{
		Use:   "mdsign",
		Short: "Sign and verify text documents",
		Long: `mdsign embeds detached CMS signatures in the YAML front matter of text
documents and verifies them against a configured set of trust anchors.

Configuration is read from the file given with --config, then from
MDSIGN_* environment variables (a .env file in the working directory is
loaded first).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.ConfigFile, "config", "c", "", "Path to the YAML configuration file")

	root.AddCommand(
		newSignCommand(&flags),
		newVerifyCommand(&flags),
		newServeCommand(&flags),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mdsign version %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Build time: %s\n", BuildTime)
		},
	}
}
