package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/texgrep/texgrep/pkg/api"
	"github.com/urfave/cli/v3"
)

// ServeCommand creates the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the search API server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address (overrides the config file)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, c.String("config"), c.String("listen"))
		},
	}
}

func serve(ctx context.Context, configPath, listenOverride string) error {
	for {
		restart, err := serveOnce(ctx, configPath, listenOverride)
		if err != nil {
			return err
		}
		if !restart {
			return nil
		}
		log.Println("Restarting server with reloaded configuration")
	}
}

// serveOnce runs the server until shutdown or until the configuration
// changes. A true return value asks the caller to start over with a fresh
// configuration.
func serveOnce(ctx context.Context, configPath, listenOverride string) (bool, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return false, err
	}
	if listenOverride != "" {
		cfg.ListenAddr = listenOverride
	}

	service, err := newService(cfg)
	if err != nil {
		return false, err
	}
	defer func() {
		if err := service.Close(); err != nil {
			log.Printf("Warning: failed to close backend: %v", err)
		}
	}()

	apiServer := api.NewServer(service, cfg)
	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)

	limiter := api.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	handler := api.CorsMiddleware(limiter.Middleware(mux))

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting search server on http://%s (provider: %s)", cfg.ListenAddr, cfg.Provider)
		log.Printf("Available endpoints:")
		log.Printf("  POST /api/search - Search the corpus")
		log.Printf("  POST /api/reindex - Rebuild the index from the sample corpus")
		log.Printf("  GET /health - Health check")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// SIGHUP and config file changes trigger a reload
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("Warning: failed to create config file watcher: %v", err)
	} else {
		defer func() {
			if err := watcher.Close(); err != nil {
				log.Printf("Warning: failed to close config file watcher: %v", err)
			}
		}()
		if err := watcher.Add(configPath); err != nil {
			log.Printf("Warning: failed to watch config file %s: %v", configPath, err)
		} else {
			log.Printf("Watching config file for changes: %s", configPath)
		}
	}

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}

	for {
		select {
		case <-ctx.Done():
			return false, shutdown()
		case err := <-errCh:
			return false, fmt.Errorf("server failed: %w", err)
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				log.Println("Received SIGHUP, reloading configuration...")
				return true, shutdown()
			default:
				fmt.Println("\nShutting down...")
				return false, shutdown()
			}
		case event, ok := <-watcherEvents(watcher):
			if !ok {
				continue
			}
			// editors often replace the file with an atomic rename
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				log.Printf("Config file changed: %s (event: %s), reloading...", event.Name, event.Op.String())
				time.Sleep(200 * time.Millisecond)
				if _, err := os.Stat(configPath); os.IsNotExist(err) {
					log.Printf("Config file was removed and not replaced, skipping reload")
					continue
				}
				return true, shutdown()
			}
		case err, ok := <-watcherErrors(watcher):
			if !ok {
				continue
			}
			log.Printf("Config file watcher error: %v", err)
		}
	}
}

func watcherEvents(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

func watcherErrors(w *fsnotify.Watcher) chan error {
	if w == nil {
		return nil
	}
	return w.Errors
}
