package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.yarde.network/sweeper/cmd/providers"
)

var rootCmd = cobra.Command{
	Use:   "sweeper",
	Short: "Adaptive crawl sweep scheduler",

	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var logConfig zap.Config
		if devMode {
			logConfig = zap.NewDevelopmentConfig()
		} else {
			logConfig = zap.NewProductionConfig()
		}
		var err error
		log, err = logConfig.Build()
		if err != nil {
			panic("failed to build logger: " + err.Error())
		}
		providers.Log = log
	},
}

var devMode bool
var log *zap.Logger

func init() {
	persistentFlags := rootCmd.PersistentFlags()
	persistentFlags.BoolVar(&devMode, "dev", false, "Dev mode")
	persistentFlags.String("config", "", "Config file")
	viper.SetEnvPrefix("sweeper")
	viper.AutomaticEnv()
	cobra.OnInitialize(func() {
		configFile, err := rootCmd.PersistentFlags().GetString("config")
		if err != nil {
			panic(err)
		}
		if configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				panic("failed to read config: " + err.Error())
			}
		}
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
	}
}
