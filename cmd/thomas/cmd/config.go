package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JohnDoee/thomas/internal/config"
)

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration (defaults merged with the config file)",
		RunE:  runConfig,
	}
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	fmt.Printf("log:\n  level: %s\n  file: %s\n", cfg.Log.Level, cfg.Log.File)
	fmt.Printf("http_reader:\n  segments: %d\n  buffer_factor: %d\n  piece_group_size: %d\n",
		cfg.GetSegments(), cfg.GetBufferFactor(), cfg.HTTPReader.PieceGroupSize)
	fmt.Printf("rar:\n  lazy: %v\n", cfg.Rar.Lazy)

	return nil
}
