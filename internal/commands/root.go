package commands

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X".
var Version = "dev"

type rootOptions struct {
	configFile string
	driver     string
	dbPath     string
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:     "credora",
		Short:   "Credit card reward optimizer",
		Version: Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (.yaml, .yml, .toml or .json)")
	flags.StringVar(&opts.driver, "driver", "", "override database.driver (sqlite, postgres, memory)")
	flags.StringVar(&opts.dbPath, "db", "", "override database.path for the sqlite driver")

	rootCmd.AddCommand(
		newServeCommand(opts),
		newSeedCommand(opts),
		newRecommendCommand(opts),
		newProgressCommand(opts),
	)

	return rootCmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
