package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/hlssplit/internal/config"
	"github.com/jmylchreest/hlssplit/internal/observability"
)

var dumpEffective bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing hlssplit configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the configuration as YAML",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  hlssplit config dump > hlssplit.yaml

With --effective the values resolved from the config file, environment and
defaults are shown instead. Credentials are never printed.

Environment variables use the HLSSPLIT_ prefix and underscores for nesting.
Example: segment.duration -> HLSSPLIT_SEGMENT_DURATION`,
	RunE: runConfigDump,
}

func init() {
	configDumpCmd.Flags().BoolVar(&dumpEffective, "effective", false, "show resolved values instead of defaults")
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags,
// formatting durations and hiding fields tagged masq:"secret".
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		if fieldType.Tag.Get("masq") == "secret" {
			if field.IsZero() {
				result[key] = ""
			} else {
				result[key] = observability.Redacted
			}
			continue
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = fv
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	var (
		cfg *config.Config
		err error
	)
	if dumpEffective {
		cfg, err = loadConfig()
	} else {
		v := viper.New()
		config.SetDefaults(v)
		cfg, err = config.Unmarshal(v)
	}
	if err != nil {
		return err
	}

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	if !dumpEffective {
		fmt.Fprintln(out, "# hlssplit configuration")
		fmt.Fprintln(out, "#")
		fmt.Fprintln(out, "# All values shown below are defaults.")
		fmt.Fprintln(out, "# Duration format: 500ms, 30s, 5m, 1h")
		fmt.Fprintln(out, "#")
		fmt.Fprintln(out, "# Credentials may also come from SAFIE_API_KEY and SAFIE_ACCESS_TOKEN.")
		fmt.Fprintln(out, "")
	}
	fmt.Fprint(out, string(yamlData))
	return nil
}
