package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	capflow "github.com/machinefabric/capflow-go"
	"github.com/machinefabric/capflow-go/httpapi"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capflow",
		Short: "Capability invocation server",
		Long:  "Serves a capability registry over the tool execution wire contract.",
	}

	cmd.PersistentFlags().String("config", "", "config file (default $HOME/.capflow/config.yaml)")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(serveCmd(), capsCmd())
	return cmd
}

func loadConfig(cmd *cobra.Command) error {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		viper.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home + "/.capflow")
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CAPFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("listen", ":8089")
	viper.SetDefault("privileged", true)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

func newLogger(cmd *cobra.Command) zerolog.Logger {
	levelName, _ := cmd.Flags().GetString("log-level")
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the capability execution endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd); err != nil {
				return err
			}
			logger := newLogger(cmd)

			registry := capflow.NewRegistry()
			capflow.RegisterStandardCapabilities(registry)

			dispatcher := capflow.NewDispatcherWithLogger(viper.GetBool("privileged"), logger)
			server := httpapi.NewServer(registry, dispatcher, logger)

			addr := viper.GetString("listen")
			logger.Info().Str("addr", addr).Int("capabilities", registry.Len()).Msg("listening")
			return http.ListenAndServe(addr, server.Handler())
		},
	}
}

func capsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "caps",
		Short: "Print the capability catalog as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := capflow.NewRegistry()
			capflow.RegisterStandardCapabilities(registry)

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(registry.Cards())
		},
	}
}
