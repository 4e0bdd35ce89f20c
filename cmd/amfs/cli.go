package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	flagVerbose bool
	flagDebug   bool
	flagConfig  string
)

var rootCmd = &cobra.Command{
	Use:   "amfs",
	Short: "AMFS volume tooling",
	Long:  "amfs formats, checks, and inspects AMFS volumes directly against a disk image.",
}

func commandInit() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file setting CLI defaults")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logrus.SetLevel(logrus.WarnLevel)
		if flagVerbose {
			logrus.SetLevel(logrus.InfoLevel)
		}
		if flagDebug {
			logrus.SetLevel(logrus.TraceLevel)
		}
		initConfig()
		return nil
	}

	rootCmd.AddCommand(mkfsCmd)
	rootCmd.AddCommand(fsckCmd)
	rootCmd.AddCommand(dumpfsCmd)
}

// initConfig loads CLI defaults (currently only the default report format)
// from flagConfig if set, or an amfs config file (e.g. amfs.yaml) in the
// current directory otherwise, falling back silently to built-in defaults. Mirrors
// pkg/vconvert's narrow, main-CLI-independent use of viper in the teacher.
func initConfig() {
	if flagConfig != "" {
		viper.SetConfigFile(flagConfig)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("amfs")
	}
	viper.SetDefault("format", "text")
	if err := viper.ReadInConfig(); err != nil {
		logrus.Debugf("amfs: no config file loaded: %s", err)
	} else {
		logrus.Debugf("amfs: using config file %s", viper.ConfigFileUsed())
	}
}
