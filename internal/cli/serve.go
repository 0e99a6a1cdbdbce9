package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d60-Lab/thought-board/internal/api"
	"github.com/d60-Lab/thought-board/internal/api/handler"
	"github.com/d60-Lab/thought-board/internal/metrics"
	"github.com/d60-Lab/thought-board/internal/platform/discord"
	"github.com/d60-Lab/thought-board/internal/service"
	"github.com/d60-Lab/thought-board/pkg/logger"
	"github.com/d60-Lab/thought-board/pkg/tracing"
)

const shutdownTimeout = 15 * time.Second

func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Discord bot, retention sweeper and admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func serve(ctx context.Context, opts *RootOptions) error {
	cfg := opts.cfg
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.openDiscord(); err != nil {
		return err
	}
	if n, err := a.repo.Count(ctx); err == nil {
		metrics.StoredThoughts.Set(float64(n))
	}

	messenger := a.messenger()
	timeout := cfg.Discord.RemoteTimeout
	posts := service.NewPostService(a.repo, messenger, service.NewCardRenderer(a.marker()), a.feed, timeout)
	deletes := service.NewDeleteService(a.repo, messenger, a.feed, timeout)
	thoughts := service.NewThoughtService(a.repo, a.feed)

	bot := discord.NewBot(a.session, cfg.Discord.AppID, cfg.Discord.GuildID, discord.Services{
		Posts: posts, Deletes: deletes, Thoughts: thoughts,
	})
	if err := bot.Open(); err != nil {
		return err
	}

	sweeper := a.sweeper()
	stopSweeper := sweeper.Start()
	runner := service.NewRecoveryRunner(a.reconciler(bot.BotID()), a.locker, cfg.Recovery.QueueSize)
	stopRunner := runner.Start()

	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	h := handler.New(thoughts, deletes, sweeper, runner, sqlDB)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(cfg, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin API listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		logger.Error("admin API failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http shutdown", zap.Error(serr))
	}
	if serr := stopRunner(shutdownCtx); serr != nil {
		logger.Warn("recovery runner shutdown", zap.Error(serr))
	}
	if serr := stopSweeper(shutdownCtx); serr != nil {
		logger.Warn("sweeper shutdown", zap.Error(serr))
	}
	return err
}
