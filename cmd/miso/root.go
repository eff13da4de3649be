package main

import (
	"github.com/spf13/cobra"

	"github.com/zoobzio/miso/internal/cli"
)

var (
	// Global state set during PersistentPreRunE
	cfg        *cli.Config
	configPath string

	// Persistent flags
	cfgFile string
	format  string
)

var rootCmd = &cobra.Command{
	Use:   "miso",
	Short: "Postgres statement compiler",
	Long: `miso - Postgres statement compiler

Miso compiles entity-described filters, joins and mutations into
parameterized PostgreSQL statements with explicitly typed placeholders.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, configPath, err = cli.LoadConfig(cfgFile)
		if err != nil {
			return cli.ConfigError("loading configuration", err)
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Command group IDs
const (
	groupStatement = "statement"
	groupUtility   = "utility"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: auto-discover miso.yaml)")
	rootCmd.PersistentFlags().StringVarP(&format, "format", "f", "", "output format: text or json (default from config)")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupStatement, Title: "Statement:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)

	renderCmd.GroupID = groupStatement
	execCmd.GroupID = groupStatement
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(execCmd)

	versionCmd.GroupID = groupUtility
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		cli.ExitWithError(err)
	}
}

// resolveString returns the first non-empty string from the provided values.
// Used to implement precedence: flag > config > default.
func resolveString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// outputFormat applies the --format flag over the configured format.
func outputFormat() (string, error) {
	f := resolveString(format, cfg.Render.Format, cli.FormatText)
	if f != cli.FormatText && f != cli.FormatJSON {
		return "", cli.ConfigError("unknown output format "+f, nil)
	}
	return f, nil
}
