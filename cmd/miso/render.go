package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/zoobzio/miso/internal/cli"
)

var renderCmd = &cobra.Command{
	Use:   "render <document>",
	Short: "Compile a statement document and print its SQL",
	Long: `Compile a JSON or YAML statement document into SQL without touching a database.

The document defines its entities and one select, insert, update or delete.
Use "-" to read the document from stdin.`,
	Example: `  # Print SQL and arguments
  miso render users-by-city.yaml

  # Machine-readable output
  miso render --format json users-by-city.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := outputFormat()
		if err != nil {
			return err
		}
		return runRender(args[0], out)
	},
}

func runRender(path, out string) error {
	doc, err := cli.ReadDocument(path, os.Stdin)
	if err != nil {
		return err
	}

	b, err := doc.Builder()
	if err != nil {
		return cli.DocumentError("resolving document", err)
	}
	stmt, err := b.Build()
	if err != nil {
		return cli.DocumentError("compiling statement", err)
	}

	if err := cli.WriteStatement(os.Stdout, stmt, out); err != nil {
		return cli.GeneralError("writing output", err)
	}
	return nil
}
