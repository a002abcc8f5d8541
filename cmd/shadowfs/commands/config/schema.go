package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/marmos91/shadowfs/pkg/config"
)

const schemaDraft = "https://json-schema.org/draft/2020-12/schema"

var schemaFile string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate JSON schema for configuration",
	Long: `Print the JSON schema of the configuration file, for editor completion
and validation. Keys follow the YAML names.

Examples:
  shadowfs config schema
  shadowfs config schema --file config.schema.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := Schema()
		if err != nil {
			return fmt.Errorf("generate schema: %w", err)
		}
		if schemaFile == "" {
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)
			return err
		}
		if err := os.WriteFile(schemaFile, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write schema: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Schema written to %s\n", schemaFile)
		return nil
	},
}

func init() {
	schemaCmd.Flags().StringVar(&schemaFile, "file", "", "write the schema to this file instead of stdout")
}

// Schema reflects config.Config into an inlined JSON schema.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true, FieldNameTag: "mapstructure"}
	s := r.Reflect(&config.Config{})
	s.Version = schemaDraft
	s.Title = "shadowfs configuration"
	s.Description = "Shadow mount daemon settings"
	return json.MarshalIndent(s, "", "  ")
}
