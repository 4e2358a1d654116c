// Command rigvalidate parses and semantically validates a .schema and/or
// .rig file without starting a server, the way a rig author checks their
// work before dropping it into the rigs/ directory.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openrigd/rigd/dsl/ast"
	"github.com/openrigd/rigd/dsl/parser"
	"github.com/openrigd/rigd/dsl/sema"
	"github.com/openrigd/rigd/internal/rigdlog"
)

var (
	schemaPath string
	rigPath    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "rigvalidate",
	Short: "Validate a rig schema and/or implementation file",
	RunE: func(cmd *cobra.Command, args []string) error {
		rigdlog.SetLevel(logLevel)
		if schemaPath == "" && rigPath == "" {
			return fmt.Errorf("at least one of --schema or --rig is required")
		}

		var schema *ast.Schema
		if schemaPath != "" {
			src, err := os.ReadFile(schemaPath)
			if err != nil {
				return fmt.Errorf("reading schema: %w", err)
			}
			schema, err = parser.ParseSchema(string(src))
			if err != nil {
				return fmt.Errorf("schema %s: %w", schemaPath, err)
			}
			fmt.Printf("%s: ok\n", schemaPath)
		}

		if rigPath != "" {
			src, err := os.ReadFile(rigPath)
			if err != nil {
				return fmt.Errorf("reading rig: %w", err)
			}
			rig, err := parser.ParseRig(string(src))
			if err != nil {
				return fmt.Errorf("rig %s: %w", rigPath, err)
			}
			if schema != nil {
				if err := sema.Analyze(rig, schema); err != nil {
					return fmt.Errorf("rig %s fails validation against %s:\n%w", rigPath, schemaPath, err)
				}
			}
			fmt.Printf("%s: ok\n", rigPath)
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&schemaPath, "schema", "", "path to a .schema file")
	rootCmd.Flags().StringVar(&rigPath, "rig", "", "path to a .rig file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
