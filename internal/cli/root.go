// Package cli implements the lexicon command-line interface.
package cli

import (
	"fmt"
	"os"

	"lexicon-go/internal/config"
	"lexicon-go/pkg/log"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "lexicon",
	Short: "Equipment image labeling pipeline",
	Long: `lexicon 调用视觉模型为装备图片批量生成外观标签，
分批原子落盘，支持中断后断点续跑。`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	rootCmd.AddCommand(labelCmd)
	rootCmd.AddCommand(failuresCmd)
	rootCmd.AddCommand(tokenCmd)
}

// loadConfig 读取配置并初始化日志
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitError("%v", err)
	}
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	return cfg
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	log.Sync()
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
