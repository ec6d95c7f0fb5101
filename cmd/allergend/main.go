// Command allergend runs the allergen detector API and its maintenance
// tasks.
//
//	allergend serve
//	allergend check 3017620422003 --user alice
//	allergend history export --user alice --out history.csv
//	allergend migrate
//	allergend purge-idempotency
//
// Configuration comes from the environment (see internal/config), optionally
// seeded from a .env file.
//
// @title       Allergen Detector API
// @version     1.0
// @description Barcode scanning, allergen resolution, scan history and preference sync.
// @BasePath    /api/v1
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/go-allergen-backend/internal/allergen"
	"github.com/tbourn/go-allergen-backend/internal/config"
	httpapi "github.com/tbourn/go-allergen-backend/internal/http"
	"github.com/tbourn/go-allergen-backend/internal/http/middleware"
	"github.com/tbourn/go-allergen-backend/internal/observability"
	"github.com/tbourn/go-allergen-backend/internal/repo"
	"github.com/tbourn/go-allergen-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

var (
	envFile string
	cfg     config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "allergend",
		Short:         "Allergen detector backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return bootstrap()
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(purgeCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// bootstrap loads the dotenv file (when present), the configuration and the
// root logger.
func bootstrap() error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	c, err := config.Load()
	if err != nil {
		return err
	}
	cfg = c

	sysutil.SetLogLevel(cfg.LogLevel)
	log.Logger = sysutil.NewLogger(os.Stderr, cfg.OTEL.ServiceName, appVersion(), cfg.LogPretty, sysutil.IsTruthy(os.Getenv("NO_COLOR")))
	return nil
}

func appVersion() string {
	return sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev")
}

// openDB connects and migrates the schema, backfilling legacy verdicts.
func openDB() (*gorm.DB, error) {
	db, err := repo.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if n, err := repo.MigrateLegacySafety(db); err != nil {
		return nil, fmt.Errorf("backfill safety: %w", err)
	} else if n > 0 {
		log.Info().Int64("rows", n).Msg("backfilled legacy scan verdicts")
	}
	return db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion(), observability.ServiceAttributes(cfg)...)
			if err != nil {
				return fmt.Errorf("otel: %w", err)
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownOTel(sctx); err != nil {
					log.Warn().Err(err).Msg("otel shutdown")
				}
			}()

			db, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(db)

			gin.SetMode(cfg.GinMode)
			r := gin.New()
			httpapi.RegisterRoutes(r, db, nil, cfg)

			go purgeLoop(ctx, db, time.Hour)

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           r,
				ReadTimeout:       cfg.ReadTimeout,
				ReadHeaderTimeout: cfg.ReadHeaderTimeout,
				WriteTimeout:      cfg.WriteTimeout,
				IdleTimeout:       cfg.IdleTimeout,
				MaxHeaderBytes:    cfg.MaxHeaderBytes,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Bool("swagger", cfg.SwaggerEnabled).Msg("listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		},
	}
}

// purgeLoop removes expired idempotency records every interval until ctx ends.
func purgeLoop(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency")
				continue
			}
			if n > 0 {
				log.Debug().Int64("rows", n).Msg("purged expired idempotency records")
			}
		}
	}
}

func checkCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "check <barcode>",
		Short: "Scan one barcode against a user's allergens and record it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(db)

			svc := httpapi.NewServices(db, nil, cfg)
			out, err := svc.Scan.Scan(cmd.Context(), user, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), out.Product.Name, out.Source, out.Result, out.Summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", middleware.DefaultUserID, "user whose settings and history are used")
	return cmd
}

func printOutcome(w io.Writer, name, source string, res allergen.Result, summary string) {
	fmt.Fprintf(w, "%s (%s)\n", name, source)
	fmt.Fprintf(w, "Safety: %s\n", res.Safety)
	for _, m := range res.Matches {
		fmt.Fprintf(w, "  - %s: %s\n", m.AllergenName, m.Explanation)
	}
	fmt.Fprintln(w, summary)
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Scan history maintenance",
	}

	var user, out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write a user's scan history as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(db)

			return exportHistory(cmd.Context(), httpapi.NewServices(db, nil, cfg).History, user, out, cmd.OutOrStdout())
		},
	}
	export.Flags().StringVar(&user, "user", middleware.DefaultUserID, "history owner")
	export.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")

	var clearUser string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete a user's scan history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(db)

			n, err := httpapi.NewServices(db, nil, cfg).History.Clear(cmd.Context(), clearUser)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d records\n", n)
			return nil
		},
	}
	clearCmd.Flags().StringVar(&clearUser, "user", middleware.DefaultUserID, "history owner")

	cmd.AddCommand(export, clearCmd)
	return cmd
}

// historyExporter is the part of the history service export needs.
type historyExporter interface {
	ExportCSV(ctx context.Context, userID string, w io.Writer) error
}

// exportHistory writes userID's CSV to path, or to stdout for "" and "-".
// A failed close is reported so a truncated file never exits cleanly.
func exportHistory(ctx context.Context, h historyExporter, userID, path string, stdout io.Writer) (err error) {
	if path == "" || path == "-" {
		return h.ExportCSV(ctx, userID, stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return h.ExportCSV(ctx, userID, f)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the schema and backfill legacy verdicts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			closeDB(db)
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-idempotency",
		Short: "Delete expired Idempotency-Key records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(db)

			n, err := repo.PurgeExpiredIdempotency(cmd.Context(), db, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d records\n", n)
			return nil
		},
	}
}
