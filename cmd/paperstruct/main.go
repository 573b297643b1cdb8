// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the paperstruct CLI. It runs PDFs
// through the reference and citation extraction pipeline and inspects the
// intermediate stages (page text, citation spans, structure engine).
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/paperstruct/internal/httputil"
	"github.com/pdiddy/paperstruct/internal/logging"
	"github.com/pdiddy/paperstruct/internal/secrets"
	"github.com/pdiddy/paperstruct/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// cfg is the resolved configuration, filled before any command runs.
	cfg types.PipelineConfig

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "paperstruct",
	Short: "Extract references, citation spans and citation links from PDFs",
	Long: `paperstruct turns academic PDFs into structured bibliographic data: the
reference list, every in-text citation marker with its page position, and
the links between the two.

References come from the GROBID structure engine when it is available, from
an alternate copy of the paper when the first attempt fails, and from a
language model reading the reference section otherwise. Results are stored
in SQLite and can be exported as YAML.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		if len(s) > 0 {
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", secrets.Names(s))
		}

		if err := loadConfig(s); err != nil {
			return err
		}

		l, err := logging.New(cfg.Log)
		if err != nil {
			return err
		}
		logger = l
		httputil.Logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./paperstruct.yaml or ~/.config/paperstruct/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("paperstruct")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "paperstruct"))
		}
	}

	viper.SetEnvPrefix("PAPERSTRUCT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig registers every default so environment variables can override
// any key, applies secrets where nothing else set the key, and decodes the
// result into cfg.
func loadConfig(secretValues map[string]string) error {
	defaults, err := defaultSettings()
	if err != nil {
		return err
	}
	for k, v := range defaults {
		viper.SetDefault(k, v)
	}
	for _, k := range []string{"fallback.api_key", "fallback.base_url", "acquisition.mailto"} {
		viper.SetDefault(k, "")
	}
	secrets.Apply(secretValues, viper.GetViper())

	cfg = types.DefaultPipelineConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("%w: decoding configuration: %w", types.ErrConfiguration, err)
	}
	return nil
}

// defaultSettings flattens DefaultPipelineConfig into dotted viper keys.
func defaultSettings() (map[string]any, error) {
	data, err := yaml.Marshal(types.DefaultPipelineConfig())
	if err != nil {
		return nil, fmt.Errorf("encoding defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decoding defaults: %w", err)
	}
	out := make(map[string]any)
	flatten("", tree, out)
	return out, nil
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flatten(key, sub, out)
			continue
		}
		out[key] = v
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
