package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	log     = logrus.New()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "backtestcli",
		Short: "Run and validate A-share equity backtests",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "run spec YAML file (required)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	root.MarkPersistentFlagRequired("config")

	viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	viper.SetEnvPrefix("BACKTESTCLI")
	viper.AutomaticEnv()

	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	return root
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return viper.GetString("config")
}
