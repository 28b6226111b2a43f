// Package cmd provides the flowtree command-line interface.
//
// Configuration sources, highest priority first:
//  1. Command-line flags
//  2. FLOWTREE_* environment variables (a .env file is honoured)
//  3. .flowtree.yml in the working directory
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/flowtree/internal/config"
	"github.com/conneroisu/flowtree/internal/logging"
	"github.com/conneroisu/flowtree/internal/plugins"
	"github.com/conneroisu/flowtree/internal/plugins/builtin"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "flowtree",
	Short: "Explode flow documents into editable source trees and keep them in sync",
	Long: `flowtree decomposes a flows document (a flat JSON array of nodes) into a
tree of per-node source files plus a hidden structural skeleton, rebuilds
the document losslessly from that tree, and in watch mode keeps the tree
and a remote flows endpoint bidirectionally synchronised.

Quick start:
  flowtree init                   Write a starter .flowtree.yml
  flowtree explode                Decompose flows.json into src/
  flowtree rebuild                Reassemble flows.json from src/
  flowtree verify                 Check the round-trip reproduces flows.json
  flowtree watch                  Bidirectional sync with the server`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .flowtree.yml)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	// Credentials commonly live in .env next to the project.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".flowtree")
	}

	viper.SetEnvPrefix("FLOWTREE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// setup loads and validates configuration and builds the logger.
func setup() (*config.Config, logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logging.NewLogger(&logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	return cfg, log, nil
}

// buildHost assembles the plugin host from the builtin set filtered by
// the configured selection.
func buildHost(cfg *config.Config) (*plugins.Host, error) {
	return builtin.DefaultHost(cfg.Plugins.FormatterCommand, plugins.Selection{
		DisableAll: cfg.Plugins.DisableAll,
		Disable:    cfg.Plugins.Disabled,
		Enable:     cfg.Plugins.Enabled,
	})
}
