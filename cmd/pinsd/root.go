package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/packrat/pinserver/pkg/ha"
	"github.com/packrat/pinserver/pkg/identity"
	"github.com/packrat/pinserver/pkg/pool"
	"github.com/packrat/pinserver/pkg/service"
	"github.com/packrat/pinserver/pkg/store"
)

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := newOptions()
	cmd := &cobra.Command{
		Use:           "pinsd",
		Short:         "Serve version pins over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setAllConfig(viper.New(), cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, err := opts.logger(stderr)
			if err != nil {
				return err
			}
			srv, err := setup(ctx, opts, logger)
			if err != nil {
				return err
			}
			defer srv.close()

			lis, err := net.Listen("tcp", opts.svc.ListenAddr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", opts.svc.ListenAddr, err)
			}
			fmt.Fprintf(stdout, "pinsd listening on %s\n", lis.Addr())
			return srv.serve(ctx, lis)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	opts.addFlags(cmd.Flags())
	return cmd
}

func (o *options) logger(w io.Writer) (*slog.Logger, error) {
	lvl, err := o.level()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger, nil
}

// server is a fully wired pinsd instance.
type server struct {
	db              *gorm.DB
	pool            *pool.Pool
	handler         http.Handler
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// setup opens the database, migrates it under the migration lock and builds
// the HTTP handler.
func setup(ctx context.Context, opts *options, logger *slog.Logger) (*server, error) {
	logger.Info("starting pinsd", "listen", opts.svc.ListenAddr, "db", opts.db.String(), "auth", opts.auth.Mode)

	db, err := store.Open(&opts.db)
	if err != nil {
		return nil, err
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	if opts.migrate {
		locker := ha.NewMigrationLocker(db, opts.lock, logger)
		if err := locker.WithLock(ctx, func() error { return store.Migrate(db) }); err != nil {
			closeDB()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	auth, err := identity.Middleware(opts.auth, logger)
	if err != nil {
		closeDB()
		return nil, err
	}

	p := pool.New(db, opts.db.PoolSize)
	svc := service.New(db, p, opts.svc, logger)
	return &server{
		db:              db,
		pool:            p,
		handler:         svc.Router(auth),
		shutdownTimeout: opts.svc.ShutdownTimeout,
		logger:          logger,
	}, nil
}

// serve runs the HTTP server on lis until ctx is done, then drains in-flight
// requests.
func (s *server) serve(ctx context.Context, lis net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("pinsd ready", "addr", lis.Addr().String(), "poolSize", s.pool.Size())
		if err := httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *server) close() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
