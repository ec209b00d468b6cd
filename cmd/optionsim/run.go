package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/atmx/options-market/internal/api"
	"github.com/atmx/options-market/internal/config"
	"github.com/atmx/options-market/internal/correlation"
	"github.com/atmx/options-market/internal/market"
	"github.com/atmx/options-market/internal/sim"
	"github.com/atmx/options-market/internal/store"
)

type runFlags struct {
	rounds  int
	seed    uint64
	listen  string
	envFile string
	output  string
}

func init() {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation",
		Long: "Run the simulation for a number of rounds. With --listen the read-only " +
			"API stays up after the last round until interrupted.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd, f)
		},
	}
	cmd.Flags().IntVar(&f.rounds, "rounds", 0, "number of rounds (overrides SIM_ROUNDS)")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "random seed (overrides SIM_SEED)")
	cmd.Flags().StringVar(&f.listen, "listen", "", "HTTP listen address, e.g. :8080 (overrides LISTEN_ADDR)")
	cmd.Flags().StringVar(&f.envFile, "env-file", "", "load variables from this .env file")
	cmd.Flags().StringVar(&f.output, outputFlagName, outputFlagValHuman, "Specify the report format: json,human")
	rootCmd.AddCommand(cmd)
}

func runSimulation(cmd *cobra.Command, f *runFlags) error {
	if f.output != outputFlagValHuman && f.output != outputFlagValJSON {
		return fmt.Errorf("%s flag must be either %q or %q", outputFlagName, outputFlagValHuman, outputFlagValJSON)
	}
	if err := config.LoadEnvFile(f.envFile); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("rounds") {
		cfg.Rounds = f.rounds
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = f.seed
	}
	if cmd.Flags().Changed("listen") {
		cfg.ListenAddr = f.listen
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// --- Engine options ---
	opts := market.Options{
		Multiplier: cfg.PremiumMultiplier,
		Fees:       cfg.Fees(),
	}
	if cfg.MaxNotionalPerAsset > 0 || cfg.MaxCorrelatedNotional > 0 {
		opts.Limiter = correlation.NewPositionLimiter(cfg.MaxNotionalPerAsset, cfg.MaxCorrelatedNotional, defaultGroups)
	}

	var hub *api.WSHub
	if cfg.ListenAddr != "" {
		hub = api.NewWSHub()
		opts.Publisher = hub
	}

	simCfg := sim.DefaultConfig()
	simCfg.Rounds = cfg.Rounds
	simCfg.Seed = cfg.Seed
	simCfg.RoundDelay = cfg.RoundDelay
	simCfg.RenderEvery = cfg.RenderEvery

	driver, err := sim.New(simCfg, opts, st, logger)
	if err != nil {
		return err
	}

	// --- HTTP API ---
	var srv *http.Server
	if cfg.ListenAddr != "" {
		go hub.Run(ctx)

		svc := api.NewService(driver.Engine(), driver.Oracle(), st, driver.RunID())
		srv = &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      api.NewRouter(svc, hub),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			slog.Info("optionsim API listening", "addr", cfg.ListenAddr, "run_id", driver.RunID())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("server error", "err", err)
				stop()
			}
		}()
	}

	report, runErr := driver.Run(ctx)
	switch {
	case runErr == nil:
		if err := writeReport(cmd.OutOrStdout(), f.output, report); err != nil {
			return err
		}
	case errors.Is(runErr, context.Canceled):
		slog.Warn("simulation interrupted", "run_id", driver.RunID())
	default:
		return runErr
	}

	if srv == nil {
		return nil
	}
	if runErr == nil {
		slog.Info("simulation finished, API still serving until interrupted", "addr", cfg.ListenAddr)
		<-ctx.Done()
	}

	// Graceful shutdown.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down optionsim API...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	return nil
}

// defaultGroups correlates the crypto underlyings of the default cast.
var defaultGroups = map[string]string{
	"BTC": "crypto",
	"ETH": "crypto",
	"SOL": "crypto",
}

// openStore picks the journal backend: PostgreSQL when DATABASE_URL is
// set, wrapped in a Redis cache when REDIS_URL is also set, otherwise
// in-memory.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	var cleanup []func()
	done := func() {
		for _, fn := range cleanup {
			fn()
		}
	}

	if cfg.DatabaseURL == "" {
		slog.Info("DATABASE_URL not set, journaling in memory")
		return store.NewMemoryStore(), done, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, done, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup = append(cleanup, pool.Close)

	pg := store.NewPostgresStore(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		done()
		return nil, func() {}, err
	}
	slog.Info("connected to PostgreSQL")

	var st store.Store = pg
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			done()
			return nil, func() {}, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled")
	}
	return st, done, nil
}

func writeReport(w io.Writer, output string, r *sim.Report) error {
	if output == outputFlagValJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Fprintf(w, "run %s: %d rounds, %d contracts, premium volume %s, fees %s\n",
		r.RunID, r.Rounds, r.Contracts, r.PremiumVolume, r.Fees)
	fmt.Fprintf(w, "by status: %v\n\n", r.ByStatus)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRADER\tSTRATEGY\tCASH\tRESERVED\tHELD\tWRITTEN\tNET WORTH")
	for _, t := range r.Traders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			t.Name, t.Strategy, t.Cash, t.ReservedCash, t.Held, t.Written, t.NetWorth)
	}
	return tw.Flush()
}
