package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/deepwork/internal/config"
	"github.com/zjrosen/deepwork/internal/flags"
	"github.com/zjrosen/deepwork/internal/httpapi"
	"github.com/zjrosen/deepwork/internal/log"
	"github.com/zjrosen/deepwork/internal/watcher"
)

func newServeCmd(c *cli) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the task API over HTTP",
		Long: `Serve the task API, Prometheus metrics and a server-sent event stream of
task changes.

When the cache-watcher flag is on and the store is SQLite, writes to the
database file by other processes drop the cache.

Example:
  deepwork serve                      # listen on server.addr from config
  deepwork serve --addr :8080         # listen on port 8080`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				c.cfg.Server.Addr = addr
			}
			if !c.debug && c.cfg.Log.File == "" {
				log.InitWithWriter(cmd.ErrOrStderr(), log.ParseLevel(c.cfg.Log.Level))
				log.SetFormat(log.Format(c.cfg.Log.Format))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", c.cfg.Server.Addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", c.cfg.Server.Addr, err)
			}
			return serve(ctx, c.cfg, ln, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "address to listen on (overrides config)")
	return cmd
}

// serve runs the API on ln until ctx is cancelled, then shuts down within
// the configured timeout.
func serve(ctx context.Context, cfg config.Config, ln net.Listener, out io.Writer) error {
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		_ = ln.Close()
		return err
	}

	handler := httpapi.New(rt.orch, httpapi.Options{
		Metrics:     rt.metrics.Handler(),
		MetricsPath: cfg.Server.MetricsPath,
		Events:      rt.events,
	})
	srv := &http.Server{
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if rt.flags.Enabled(flags.FlagCacheWatcher) && cfg.Database.Backend == config.BackendSQLite {
		w, err := watcher.New(watcher.DefaultConfig(cfg.Database.Path))
		if err != nil {
			log.ErrorErr(log.CatWatcher, "Failed to create watcher", err)
		} else {
			go func() {
				if err := w.Run(watchCtx, rt.orch); err != nil {
					log.ErrorErr(log.CatWatcher, "Watcher stopped", err)
				}
			}()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	fmt.Fprintf(out, "deepwork listening on %s\n", ln.Addr())
	log.Info(log.CatHTTP, "Server started", "addr", ln.Addr().String())

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info(log.CatHTTP, "Shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Closing the broker first ends open event streams so Shutdown can
	// finish without waiting them out.
	rt.events.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.ErrorErr(log.CatHTTP, "Error stopping server", err)
	}
	stopWatch()
	if err := rt.Close(shutdownCtx); err != nil {
		log.ErrorErr(log.CatHTTP, "Error closing runtime", err)
	}

	fmt.Fprintln(out, "deepwork stopped")
	return serveErr
}
