package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot(os.Stderr)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// buildRoot creates the root command. Logs of every command go to stderr.
func buildRoot(stderr io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	serveFlags := &ServeFlags{}
	migrateFlags := &MigrateFlags{}

	root := createRootCommand(globalFlags)
	root.SetErr(stderr)
	root.AddCommand(
		createRunCommand(globalFlags, runFlags, stderr),
		createServeCommand(globalFlags, serveFlags, stderr),
		createMigrateCommand(globalFlags, migrateFlags, stderr),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "extractor",
		Short: "Per-country jobseeker mail target extractor",
		Long: `Extractor decides, per country, whether today's jobseeker extraction is due
and runs it at most once under the country_state lock.

Examples:
  extractor run --country=mx
  extractor migrate --country=mx --last-run=2015-12-17
  extractor serve --listen=:8000
  extractor run --country=mx --config=/etc/extractor/config.toml`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}
