// Command rigconvert translates a legacy OmniRig-style .ini rig protocol
// descriptor into a .rig DSL file, so an existing library of rig
// descriptors doesn't have to be hand-transcribed into this codebase's
// command language.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openrigd/rigd/internal/legacyimport"
)

var (
	inputPath  string
	outputPath string
	schemaName string
	rigModel   string
)

var rootCmd = &cobra.Command{
	Use:   "rigconvert",
	Short: "Convert a legacy .ini rig protocol descriptor into a .rig file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if inputPath == "" || schemaName == "" || rigModel == "" {
			return fmt.Errorf("--input, --schema, and --model are all required")
		}

		desc, err := legacyimport.ParseFile(inputPath)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", inputPath, err)
		}

		out, err := legacyimport.Translate(desc, schemaName, rigModel)
		if err != nil {
			return fmt.Errorf("translating %s: %w", inputPath, err)
		}

		if outputPath == "" {
			fmt.Print(out)
			return nil
		}
		if err := os.WriteFile(outputPath, []byte(out), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", outputPath, err)
		}
		fmt.Printf("converted %s into %s; run rigvalidate before deploying it\n", inputPath, outputPath)
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&inputPath, "input", "", "path to the legacy .ini rig protocol descriptor")
	rootCmd.Flags().StringVar(&outputPath, "output", "", "path to write the converted .rig file (default: stdout)")
	rootCmd.Flags().StringVar(&schemaName, "schema", "", "schema name the generated impl targets")
	rootCmd.Flags().StringVar(&rigModel, "model", "", "rig model name for the generated impl")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
