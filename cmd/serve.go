package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geosight/geosight/internal/api"
	"github.com/geosight/geosight/internal/jobs"
	"github.com/geosight/geosight/internal/poi"
	"github.com/geosight/geosight/internal/store"
)

var (
	servePort    int
	serveMigrate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scoring API and job dispatcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if serveMigrate {
			if err := st.Migrate(ctx); err != nil {
				return err
			}
		}

		src, poiPool, err := initPOISource(ctx)
		if err != nil {
			return err
		}
		defer poiPool.Close()

		notifier, closeNotifier, err := initNotifier(ctx)
		if err != nil {
			return err
		}
		defer closeNotifier()

		opts, err := gridOptions()
		if err != nil {
			return err
		}
		grid := &jobs.GridFile{Path: cfg.Grid.Path, Options: opts}
		loaded, err := grid.Load(ctx)
		if err != nil {
			return eris.Wrap(err, "load grid")
		}
		zap.L().Info("grid loaded", zap.String("path", cfg.Grid.Path), zap.Int("cells", loaded.Len()))

		runner := &jobs.Runner{
			Store:         st,
			Source:        src,
			Grid:          grid,
			Engine:        newEngine(),
			Notifier:      notifier,
			CleanupOnKill: cfg.Scoring.CleanupOnKill,
		}
		dispatcher := jobs.NewDispatcher(ctx, runner, cfg.Scoring.MaxConcurrentJobs)

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: api.NewRouter(api.RouterConfig{
				Jobs:        dispatcher,
				Store:       st,
				Catalog:     catalog(st),
				CORSOrigins: cfg.Server.CORSOrigins,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		dispatcher.Wait()
		return nil
	},
}

// catalog prefers the YAML preset file over the poi_configs table.
func catalog(st store.Store) poi.Catalog {
	if cfg.Scoring.CategoriesFile != "" {
		return poi.FileCatalog{Path: cfg.Scoring.CategoriesFile}
	}
	return poi.StoreCatalog{Store: st}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply the schema before serving")
	rootCmd.AddCommand(serveCmd)
}
