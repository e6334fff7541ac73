package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alimasry/go-collab-ot/config"
	"github.com/alimasry/go-collab-ot/ot"
	"github.com/alimasry/go-collab-ot/server"
	"github.com/alimasry/go-collab-ot/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "usage: collabd [-config file] [-addr addr] [-store backend] [-log-level level]")
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "collabd:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, getenv func(string) string, stderr io.Writer) error {
	cfg, err := config.Load(args, getenv)
	if err != nil {
		return err
	}
	logger, err := cfg.Log.NewLogger(stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	defer func() {
		if c, ok := st.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Error("close store", "err", err)
			}
		}
	}()

	hub := server.NewHub(st, &ot.JupiterEngine{}, logger, cfg.Session)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.NewHandler(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("starting server", "addr", cfg.Addr, "store", cfg.Store.Backend)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
