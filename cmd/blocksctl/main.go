// blocksctl runs maintenance tasks against the configured store and blob
// backend without starting the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sakif/linkblocks/internal/config"
	"github.com/sakif/linkblocks/internal/janitor"
	"github.com/sakif/linkblocks/internal/server"
)

var cmdRoot = &cobra.Command{
	Use:           "blocksctl",
	Short:         "Maintenance commands for a linkblocks deployment",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	configFile string
	verbose    bool
)

func init() {
	cmdRoot.PersistentFlags().StringVar(&configFile, "config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	cmdRoot.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

// env is what every subcommand works with. close releases the backends.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	backends *server.Backends
	services *server.Services
}

func (e *env) close() {
	if err := e.backends.Close(); err != nil {
		e.logger.Warn("closing backends", slog.String("error", err.Error()))
	}
}

func openEnv(ctx context.Context) (*env, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateStorage(); err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	backends, err := server.OpenBackends(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening backends: %w", err)
	}
	// No token service: none of the commands sign users in.
	services := server.NewServices(cfg, backends, nil, logger)

	return &env{cfg: cfg, logger: logger, backends: backends, services: services}, nil
}

var cmdMigrate = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the SQLite schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		// Opening the sqlite store runs the migrations.
		if e.cfg.StoreBackend != config.BackendSQLite {
			fmt.Fprintf(cmd.OutOrStdout(), "%s needs no migration\n", e.cfg.StoreBackend)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema ready at %s\n", e.cfg.DBPath)
		return nil
	},
}

var sweepGrace time.Duration

var cmdSweep = &cobra.Command{
	Use:   "sweep",
	Short: "Run one janitor pass: reap stale blocks and reconcile the participant counter",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		grace := e.cfg.JanitorGrace
		if cmd.Flags().Changed("grace") {
			grace = sweepGrace
		}
		job := janitor.New(e.services.Blocks, e.services.Comments, e.cfg.JanitorInterval, grace, e.logger)
		res, err := job.RunOnce(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "reaped %d blocks, %d participants\n", res.Reaped, res.Participants)
		return err
	},
}

func init() {
	cmdSweep.Flags().DurationVar(&sweepGrace, "grace", 0, "only reap blocks untouched for this long (default JANITOR_GRACE)")
}

var cmdCounter = &cobra.Command{
	Use:   "counter",
	Short: "Participant counter commands",
}

var cmdCounterReconcile = &cobra.Command{
	Use:   "reconcile",
	Short: "Reset the participant counter to the number of stored comments",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		n, err := e.services.Comments.ReconcileCount(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "participants: %d\n", n)
		return nil
	},
}

var cmdBlocks = &cobra.Command{
	Use:   "blocks",
	Short: "Block commands",
}

var blocksUser string

var cmdBlocksNextID = &cobra.Command{
	Use:   "next-id",
	Short: "Print the block id the next save for --user would get",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		id, err := e.services.Blocks.NextID(cmd.Context(), blocksUser)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

func init() {
	cmdBlocksNextID.Flags().StringVar(&blocksUser, "user", "", "user id")
	cmdBlocksNextID.MarkFlagRequired("user")
}

func main() {
	cmdRoot.AddCommand(cmdMigrate, cmdSweep, cmdCounter, cmdBlocks)
	cmdCounter.AddCommand(cmdCounterReconcile)
	cmdBlocks.AddCommand(cmdBlocksNextID)

	if err := cmdRoot.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "blocksctl:", err)
		os.Exit(1)
	}
}
