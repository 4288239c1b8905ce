package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hib/hib/internal/config"
	"github.com/hib/hib/internal/domain/financial"
	"github.com/hib/hib/internal/platform/auth"
	"github.com/hib/hib/internal/platform/db"
	"github.com/hib/hib/internal/platform/middleware"
	"github.com/hib/hib/internal/platform/openapi"
	"github.com/hib/hib/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "hib-server",
		Short:        "Claim financial responsibility API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(ratesCmd())
	rootCmd.AddCommand(calculateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	}
	return zerolog.New(out).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:   cfg.DBMaxConns,
		MinConns:   cfg.DBMinConns,
		SearchPath: cfg.DBSchema,
	})
}

// migrationsFS returns dir as a filesystem, or the embedded migrations when
// dir is empty.
func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	withMigrator := func(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator, schema string) error) error {
		schema, _ := cmd.Flags().GetString("schema")
		dir, _ := cmd.Flags().GetString("dir")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if schema == "" {
			schema = cfg.DBSchema
		}
		if dir == "" {
			dir = cfg.MigrationsDir
		}

		ctx := cmd.Context()
		pool, err := openPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		migrator, err := db.NewMigrator(pool, migrationsFS(dir), schema)
		if err != nil {
			return err
		}
		return fn(ctx, migrator, schema)
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Migration status for schema: %s\n", schema)
				printStatuses(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "", "Target schema (default DB_SCHEMA)")
		c.Flags().String("dir", "", "Migrations directory (default: embedded migrations)")
		cmd.AddCommand(c)
	}
	return cmd
}

func printStatuses(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func ratesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rates",
		Short: "Import and export negotiated provider rates",
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Load negotiated rates from a Parquet file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			replace, _ := cmd.Flags().GetBool("replace")
			if file == "" {
				return fmt.Errorf("--file is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env, os.Stderr)

			rows, err := financial.ReadRateFile(file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			catalog, err := financial.ProcedureIDsByCode(ctx, pool)
			if err != nil {
				return err
			}
			rates, rejected := financial.ToNegotiatedRates(rows, catalog)
			for _, r := range rejected {
				logger.Warn().Int("row", r.Index).Str("reason", r.Reason).Msg("rate row rejected")
			}
			if len(rates) == 0 {
				return fmt.Errorf("no importable rows in %s (%d rejected)", file, len(rejected))
			}

			n, err := financial.ImportRates(ctx, pool, rates, replace)
			if err != nil {
				return err
			}
			logger.Info().Str("file", file).Int64("imported", n).Int("rejected", len(rejected)).
				Bool("replace", replace).Msg("rates imported")

			repo, closeCache, err := rateRepository(ctx, cfg, pool, logger)
			if err != nil {
				return fmt.Errorf("rates imported but cache not invalidated: %w", err)
			}
			defer closeCache()
			return invalidateRateCache(ctx, repo, financial.RateInstitutions(rates), logger)
		},
	}
	importCmd.Flags().String("file", "", "Parquet file with negotiated rates")
	importCmd.Flags().Bool("replace", false, "Deactivate existing rates of the institutions in the file")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write an institution's negotiated rates to a Parquet file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			instArg, _ := cmd.Flags().GetString("institution")
			instID, err := uuid.Parse(instArg)
			if err != nil {
				return fmt.Errorf("--institution: %w", err)
			}
			if out == "" {
				return fmt.Errorf("--out is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			catalog, err := financial.ProcedureIDsByCode(ctx, pool)
			if err != nil {
				return err
			}
			rows, err := financial.ExportRates(ctx, financial.NewRateRepoPG(pool), instID, catalog)
			if err != nil {
				return err
			}
			if err := financial.WriteRateFile(out, rows); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d rate(s) to %s\n", len(rows), out)
			return nil
		},
	}
	exportCmd.Flags().String("institution", "", "Institution id")
	exportCmd.Flags().String("out", "", "Output Parquet file")

	cmd.AddCommand(importCmd, exportCmd)
	return cmd
}

func calculateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Calculate member and insurer responsibility for a claim JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			req, err := readClaimRequest(file)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env, os.Stderr)
			terms, err := financial.LoadCategoryTerms(cfg.PlanTermsFile)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := financial.NewService(financial.NewPGRepositories(pool), terms, logger)
			res, err := svc.CalculateFinancialResponsibility(ctx, req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().String("file", "", "Claim calculation request as JSON")
	return cmd
}

func readClaimRequest(path string) (*financial.ClaimCalculationRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read claim request: %w", err)
	}
	var req financial.ClaimCalculationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode claim request %s: %w", path, err)
	}
	return &req, nil
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed API token (AUTH_SIGNING_KEY)",
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, _ := cmd.Flags().GetString("sub")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := auth.IssueToken(jwtConfig(cfg), sub, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("sub", "cli", "Token subject")
	cmd.Flags().StringSlice("roles", []string{"claims"}, "Roles granted by the token")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
}

// newServer builds the HTTP surface. pinger and stats back /health/db;
// stats may be nil.
func newServer(cfg *config.Config, logger zerolog.Logger, svc *financial.Service, pinger db.Pinger, stats func() *db.PoolStats) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pinger, stats))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtConfig(cfg)))
	}
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	h := financial.NewHandler(svc)
	h.RegisterRoutes(apiV1)

	docs := openapi.NewGenerator("Claim Financial Responsibility API", version, "/api/v1")
	h.Describe(docs)
	docs.RegisterRoutes(e.Group("/api"))
	return e
}

// rateRepository wraps the Postgres rate repository with the Redis cache when
// REDIS_URL is set. The returned close func is never nil.
func rateRepository(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (financial.NegotiatedRateRepository, func(), error) {
	base := financial.NewRateRepoPG(pool)
	if cfg.RedisURL == "" {
		return base, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info().Str("addr", opts.Addr).Dur("ttl", cfg.RateCacheTTL).Msg("negotiated rate cache enabled")
	return financial.NewCachedRateRepository(base, client, cfg.RateCacheTTL, logger), func() { client.Close() }, nil
}

// rateCacheInvalidator is implemented by the Redis-backed rate repository.
type rateCacheInvalidator interface {
	Invalidate(ctx context.Context, institutionIDs ...uuid.UUID) (int64, error)
}

// invalidateRateCache drops cached rates of the imported institutions. It is
// a no-op when repo has no cache in front of it.
func invalidateRateCache(ctx context.Context, repo financial.NegotiatedRateRepository, institutions []uuid.UUID, logger zerolog.Logger) error {
	inv, ok := repo.(rateCacheInvalidator)
	if !ok {
		return nil
	}
	n, err := inv.Invalidate(ctx, institutions...)
	if err != nil {
		return fmt.Errorf("rates imported but cache not invalidated: %w", err)
	}
	logger.Info().Int("institutions", len(institutions)).Int64("keys", n).Msg("rate cache invalidated")
	return nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env, os.Stdout)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		logger.Warn().Msg("ENV=development without AUTH_SIGNING_KEY: every API request is treated as admin")
	}

	terms, err := financial.LoadCategoryTerms(cfg.PlanTermsFile)
	if err != nil {
		return fmt.Errorf("load plan terms: %w", err)
	}

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	repos := financial.NewPGRepositories(pool)
	rates, closeCache, err := rateRepository(ctx, cfg, pool, logger)
	if err != nil {
		return fmt.Errorf("set up rate cache: %w", err)
	}
	defer closeCache()
	repos.Rates = rates

	svc := financial.NewService(repos, terms, logger)
	e := newServer(cfg, logger, svc, pool, func() *db.PoolStats { return db.GetPoolStats(pool) })

	serveErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
