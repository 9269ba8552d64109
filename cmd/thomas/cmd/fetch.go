package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/JohnDoee/thomas/internal/config"
	"github.com/JohnDoee/thomas/internal/httpio"
	"github.com/JohnDoee/thomas/internal/slogutil"
)

func init() {
	fetchCmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Download a URL through the segmented HTTP reader, writing its bytes to stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  runFetch,
	}
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		slog.Default().Error("failed to load config", "err", err)
		return err
	}

	logger := slogutil.SetupLogRotation(cfg.Log)
	slog.SetDefault(logger)

	opts := httpio.DefaultOptions()
	opts.Segments = cfg.GetSegments()
	opts.BufferFactor = cfg.GetBufferFactor()

	ctx := context.Background()
	reader, err := httpio.New(ctx, args[0], opts)
	if err != nil {
		logger.Error("failed to open url", "url", args[0], "err", err)
		return err
	}
	defer reader.Close()

	logger.Info("fetching", "url", args[0], "size", reader.Probe().Size, "filename", reader.Probe().Filename)

	if err := reader.Seek(0); err != nil {
		return err
	}

	for {
		chunk, err := reader.Read(1 << 20)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}
		if _, err := os.Stdout.Write(chunk); err != nil {
			return err
		}
	}
}
