package main

import (
	"os"

	"github.com/RichardoC/tablechat/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var configPath string

	root := &cobra.Command{
		Use:          "tablechat",
		Short:        "Chat with your SQL databases",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().Bool("debug", false, "enable development logging")
	_ = v.BindPFlag("debug", root.PersistentFlags().Lookup("debug"))

	load := func() (*config.Config, *zap.Logger, error) {
		cfg, err := config.Load(v, configPath)
		if err != nil {
			return nil, nil, err
		}
		logger, err := newLogger(cfg.Debug)
		if err != nil {
			return nil, nil, err
		}
		return cfg, logger, nil
	}

	root.AddCommand(newServeCmd(v, load), newAskCmd(load))
	return root
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

type loadFunc func() (*config.Config, *zap.Logger, error)

func bindString(v *viper.Viper, cmd *cobra.Command, key, flag, usage string) {
	cmd.Flags().String(flag, "", usage)
	_ = v.BindPFlag(key, cmd.Flags().Lookup(flag))
}
