package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pchhetri/zendesk-apps-tools/internal/config"
	"github.com/pchhetri/zendesk-apps-tools/internal/logging"
)

var zatConfigFile string

// legacyKeys are the flat keys older .zat files store account details
// under. They map onto the theme section.
var legacyKeys = []string{"subdomain", "username", "token", "password"}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zat",
	Short: "Preview Zendesk apps and Help Center themes locally",
	Long: `zat serves app bundles and Help Center themes from your machine so
they can be previewed inside a Zendesk account while you edit them.

  zat server             Serve one or more apps at http://localhost:4567/app.js
  zat theme preview      Upload a theme for preview and keep it in sync

Configuration is read from command-line flags, ZAT_* environment variables
and the .zat file in the current directory, in that order.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	v := viper.GetViper()
	config.SetDefaults(v)
	config.ConfigureEnv(v)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&zatConfigFile, "zat-config", ".zat", "project settings file (JSON)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")

	cobra.CheckErr(bindFlags(v, flags, map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
	}))
}

// initConfig reads the .zat file when there is one.
func initConfig() {
	if err := readZatFile(viper.GetViper(), zatConfigFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: ignoring %s: %v\n", zatConfigFile, err)
	}
}

func readZatFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return nil
	}

	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	for _, key := range legacyKeys {
		if v.InConfig(key) && !v.InConfig("theme."+key) {
			v.SetDefault("theme."+key, v.GetString(key))
		}
	}
	return nil
}

func newLogger(cfg *config.Config, out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Log.Format,
		Output:    out,
		Component: "zat",
	}), nil
}
