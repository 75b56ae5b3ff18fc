package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vasset/extractor-service/internal/config"
	"vasset/extractor-service/internal/logger"
)

// Version 构建时通过 ldflags 注入
var Version = "dev"

var (
	flagConfig string
	flagDebug  bool
)

var (
	cfg *config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:               "extractor",
	Short:             "Video URL extraction service",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	RunE:              serveRun,
}

// Execute 执行根命令
func Execute() {
	err := rootCmd.Execute()
	if log != nil {
		_ = log.Sync()
	}
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "config/dev.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "x", false, "Debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(proxiesCmd)
}

// setup 加载配置并初始化日志
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.LoadConfig(flagConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err = logger.New(cfg.Server.Mode, flagDebug)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	return nil
}
