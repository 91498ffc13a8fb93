// Command endpoint is the CLI front-end: it loads connection
// configuration from the environment via pkg/config, selects an adapter
// by backend name, and runs one side of a session over a pair of file
// descriptors supplied by the caller.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/koba/rangesync/pkg/adapter"
	"github.com/koba/rangesync/pkg/adapter/mysqladapter"
	"github.com/koba/rangesync/pkg/adapter/pgadapter"
	"github.com/koba/rangesync/pkg/config"
	"github.com/koba/rangesync/pkg/peer"
)

var (
	inFD  int
	outFD int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "endpoint",
	Short: "One side of a range-hash replication session",
	Long:  `Runs the "from" (source, read-only) or "to" (destination) side of a session over a pair of file descriptors, reading connection parameters from the environment.`,
}

var fromCmd = &cobra.Command{
	Use:   "from",
	Short: "Serve the read-only source side of a session",
	RunE:  runFrom,
}

var toCmd = &cobra.Command{
	Use:   "to",
	Short: "Drive the destination side of a session",
	RunE:  runTo,
}

func init() {
	rootCmd.PersistentFlags().IntVar(&inFD, "in-fd", 0, "file descriptor to read the peer's commands from")
	rootCmd.PersistentFlags().IntVar(&outFD, "out-fd", 1, "file descriptor to write commands to the peer on")
	rootCmd.AddCommand(fromCmd)
	rootCmd.AddCommand(toCmd)
}

func newAdapter(backend config.Backend) (adapter.Adapter, error) {
	switch backend {
	case config.BackendMySQL:
		return mysqladapter.New(), nil
	case config.BackendPostgres:
		return pgadapter.New(), nil
	default:
		return nil, fmt.Errorf("endpoint: unsupported backend %q", backend)
	}
}

func connectedAdapter(ctx context.Context, cfg config.PeerConfig) (adapter.Adapter, error) {
	a, err := newAdapter(cfg.Backend)
	if err != nil {
		return nil, err
	}
	if err := a.Connect(ctx, cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password); err != nil {
		return nil, fmt.Errorf("endpoint: connect: %w", err)
	}
	return a, nil
}

func openPipe() peer.Pipe {
	return peer.Pipe{
		In:  os.NewFile(uintptr(inFD), "endpoint-in"),
		Out: os.NewFile(uintptr(outFD), "endpoint-out"),
	}
}

func runFrom(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := connectedAdapter(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	worker := &peer.FromWorker{Adapter: a, Logger: logger}
	return worker.Serve(ctx, openPipe())
}

func runTo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := connectedAdapter(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	worker := &peer.ToWorker{
		Adapter:         a,
		Logger:          logger,
		MaxRowCount:     cfg.MaxRowCount,
		SnapshotID:      cfg.SnapshotID,
		DisableTriggers: cfg.DisableTriggers,
	}
	return worker.Run(ctx, openPipe())
}
