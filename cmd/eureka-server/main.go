package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/eureka/eureka/internal/config"
	"github.com/eureka/eureka/internal/domain/cohort"
	"github.com/eureka/eureka/internal/domain/dataelement"
	"github.com/eureka/eureka/internal/domain/destination"
	"github.com/eureka/eureka/internal/domain/etluser"
	"github.com/eureka/eureka/internal/domain/fileupload"
	"github.com/eureka/eureka/internal/domain/job"
	"github.com/eureka/eureka/internal/domain/sourceconfig"
	"github.com/eureka/eureka/internal/domain/systemelement"
	"github.com/eureka/eureka/internal/domain/timeunit"
	"github.com/eureka/eureka/internal/platform/apperr"
	"github.com/eureka/eureka/internal/platform/auth"
	"github.com/eureka/eureka/internal/platform/blobstore"
	"github.com/eureka/eureka/internal/platform/db"
	"github.com/eureka/eureka/internal/platform/etl"
	"github.com/eureka/eureka/internal/platform/export"
	"github.com/eureka/eureka/internal/platform/ksb"
	"github.com/eureka/eureka/internal/platform/metrics"
	"github.com/eureka/eureka/internal/platform/middleware"
	"github.com/eureka/eureka/migrations"
)

const version = "0.1.0"

// jobLookup gives the task manager read access to jobs without going
// through job.Service, which itself needs the task manager as its queue.
type jobLookup struct {
	repo job.Repository
}

func (l *jobLookup) GetByID(ctx context.Context, id int64) (*job.Job, error) {
	jobs, err := l.repo.List(ctx, job.Filter{JobID: &id})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, apperr.Newf(apperr.ErrNotFound, "Job %d not found", id)
	}
	return jobs[0], nil
}

func (l *jobLookup) AddEvent(ctx context.Context, jobID int64, ev *job.JobEvent) error {
	return l.repo.AddEvent(ctx, jobID, ev)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "eureka-server",
		Short: "Eureka clinical analytics ETL server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sourceConfigCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// apiGroups returns the /protected and root API groups. Both run the same
// middleware instances, so a client's rate budget covers the whole API.
func apiGroups(e *echo.Echo, shared ...echo.MiddlewareFunc) (protected, api *echo.Group) {
	return e.Group("/protected", shared...), e.Group("", shared...)
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the ETL workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationFiles returns the embedded migrations, or those in dir when set.
func migrationFiles(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.Files
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		Schema:   cfg.DBSchema,
		AppName:  "eureka-server",
	})
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			to, _ := cmd.Flags().GetInt("to")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationFiles(dir))
			fmt.Printf("Running migrations on schema: %s\n", cfg.DBSchema)

			if err := db.EnsureSchema(ctx, pool, cfg.DBSchema, nil); err != nil {
				return err
			}
			var count int
			if to > 0 {
				count, err = migrator.UpTo(ctx, cfg.DBSchema, to)
			} else {
				count, err = migrator.Up(ctx, cfg.DBSchema)
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	upCmd.Flags().Int("to", 0, "Stop after this migration version")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationFiles(dir))
			statuses, err := migrator.Status(ctx, cfg.DBSchema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Schema %s\n", cfg.DBSchema)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.Modified {
						status = "modified"
					}
					appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, s.Name, status, appliedAt)
			}
			return w.Flush()
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Restore from a backup or apply a hand-written reverting script.")
			return nil
		},
	})

	return cmd
}

func sourceConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sourceconfig",
		Short: "Inspect source configuration files",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the loadable source configurations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			user, _ := cmd.Flags().GetString("user")

			store, err := sourceconfig.NewStore(dir, sourceconfig.DefaultRegistry(), zerolog.New(os.Stderr))
			if err != nil {
				return err
			}
			configs, err := store.List(cmd.Context(), user)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tOWNER\tDATA SOURCES")
			for _, sc := range configs {
				var ids []string
				for _, s := range sc.DataSourceBackends {
					ids = append(ids, s.ID)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", sc.ID, sc.DisplayName, sc.OwnerUsername, strings.Join(ids, ","))
			}
			return w.Flush()
		},
	}
	listCmd.Flags().String("dir", "./etc/sourceconfigs", "Source configuration directory")
	listCmd.Flags().String("user", "", "Also list configurations owned by this user")
	cmd.AddCommand(listCmd)

	validateCmd := &cobra.Command{
		Use:   "validate [file...]",
		Short: "Check source configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			files := args
			if len(files) == 0 {
				dir, _ := cmd.Flags().GetString("dir")
				for _, pattern := range []string{"*.yaml", "*.yml"} {
					matches, err := filepath.Glob(filepath.Join(dir, pattern))
					if err != nil {
						return err
					}
					files = append(files, matches...)
				}
			}
			return validateSourceConfigs(os.Stdout, sourceconfig.DefaultRegistry(), files)
		},
	}
	validateCmd.Flags().String("dir", "./etc/sourceconfigs", "Source configuration directory")
	cmd.AddCommand(validateCmd)

	return cmd
}

// validateSourceConfigs reports each file as ok or invalid and fails when
// any file is invalid.
func validateSourceConfigs(out io.Writer, registry *sourceconfig.Registry, files []string) error {
	failed := 0
	for _, f := range files {
		sc, err := sourceconfig.Parse(f)
		if err == nil {
			err = registry.Validate(sc)
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "INVALID %s: %v\n", f, err)
			continue
		}
		fmt.Fprintf(out, "ok      %s (%s)\n", f, sc.ID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d source configuration(s) invalid", failed, len(files))
	}
	return nil
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Issue a signed access token for local use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roles, _ := cmd.Flags().GetStringSlice("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := auth.IssueToken([]byte(cfg.AuthSigningKey), cfg.AuthIssuer, args[0], roles, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringSlice("roles", []string{auth.RoleResearcher}, "Roles to grant")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

// authMiddleware verifies bearer tokens. In development requests without a
// token act as dev-user.
func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	var verify echo.MiddlewareFunc
	if cfg.AuthSigningKey != "" || cfg.AuthIssuer != "" || cfg.AuthJWKSURL != "" {
		verify = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		})
	}
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(verify)
	}
	return verify
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger(os.Getenv("ENV"))
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	migrator := db.NewMigrator(pool, migrations.Files)
	if err := db.EnsureSchema(ctx, pool, cfg.DBSchema, migrator); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Knowledge source and source configurations
	ks, err := ksb.Default()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load knowledge source")
	}
	store, err := sourceconfig.NewStore(cfg.ETLConfigDir, sourceconfig.DefaultRegistry(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load source configurations")
	}
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if err := store.Watch(watchCtx); err != nil {
		logger.Warn().Err(err).Msg("source configuration changes will not be picked up")
	}

	// Repositories and services
	userSvc := etluser.NewService(etluser.NewRepoPG(pool))
	systemSvc := systemelement.NewService(ksb.NewPropositionFinder(ks))
	units := timeunit.NewRepoPG(pool)
	destSvc := destination.NewService(destination.NewRepoPG(pool), cohort.NewRepoPG(pool), systemSvc)
	elementSvc := dataelement.NewService(dataelement.NewRepoPG(pool), systemSvc, units)

	// ETL
	jobRepo := job.NewRepoPG(pool)
	factory := export.NewFactory(export.NewResultStore(pool), cfg.ETLOutputDir, logger)
	runner := etl.New(store, destSvc, factory, jobRepo, cfg.ETLDataDir, logger)
	manager := etl.NewTaskManager(&jobLookup{repo: jobRepo}, runner, cfg.ETLWorkers, cfg.ETLQueueSize, logger)
	manager.Start()

	jobSvc := job.NewService(jobRepo, destSvc, runner, store, manager)
	uploadSvc := fileupload.NewService(fileupload.NewRepoPG(pool), userSvc, elementSvc, jobSvc, fileupload.Defaults{
		SourceConfigID: cfg.ETLDefaultSourceConfig,
		DestinationID:  cfg.ETLDefaultDestination,
	}).WithBlobs(blobstore.NewDiskStore(cfg.ETLDataDir))

	sweeper := etl.NewSweeper(jobSvc, manager.IsRunning, cfg.JobStaleAfter, logger)
	if err := sweeper.Start(cfg.JobSweepSchedule); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.JobSweepSchedule).Msg("invalid job sweep schedule")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if cfg.MetricsEnabled {
		e.Use(metrics.Middleware())
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	if mw := authMiddleware(cfg); mw != nil {
		e.Use(mw)
	}
	var auditRecorders []middleware.AuditRecorder
	if cfg.MetricsEnabled {
		auditRecorders = append(auditRecorders, middleware.AuditRecorderFunc(func(entry middleware.AuditEntry) error {
			metrics.RecordAccess(entry.Resource, entry.Action, entry.Status)
			return nil
		}))
	}
	e.Use(middleware.Audit(logger, auditRecorders...))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, migrator, cfg.DBSchema))
	if cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	protected, api := apiGroups(e, middleware.RateLimit(rateLimitCfg), db.ConnMiddleware(pool))

	etluser.NewHandler(userSvc).RegisterRoutes(protected)
	job.NewHandler(jobSvc, userSvc).RegisterRoutes(protected)
	destination.NewHandler(destSvc, userSvc).RegisterRoutes(protected)
	sourceconfig.NewHandler(store).RegisterRoutes(protected)

	dataelement.NewHandler(elementSvc, userSvc).RegisterRoutes(api)
	systemelement.NewHandler(systemSvc).RegisterRoutes(api)
	timeunit.NewHandler(units).RegisterRoutes(api)
	fileupload.NewHandler(uploadSvc).RegisterRoutes(api)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	sweeper.Stop()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Ints64("running", manager.Running()).Msg("cancelled running jobs")
	}
	logger.Info().Msg("server stopped")
	return nil
}
