package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/thought-board/internal/metrics"
	"github.com/d60-Lab/thought-board/internal/model"
	"github.com/d60-Lab/thought-board/internal/platform"
	"github.com/d60-Lab/thought-board/internal/repository"
	"github.com/d60-Lab/thought-board/pkg/lock"
	"github.com/d60-Lab/thought-board/pkg/logger"
)

const (
	sweepLockKey = "sweep"
	sweepLockTTL = 30 * time.Minute
)

// ErrSweepRunning 另一个进程正在执行清理
var ErrSweepRunning = errors.New("sweep already running")

// SweepReport 单次清理统计
type SweepReport struct {
	Scanned int `json:"scanned"`
	Purged  int `json:"purged"`
	Kept    int `json:"kept"`
	Failed  int `json:"failed"`
}

// Sweeper 定期清理过期帖子：私密帖子按保留期删除，公开帖子只有远端消息确认不存在时才删除
type Sweeper struct {
	repo          repository.ThoughtRepository
	messenger     platform.Messenger
	locker        lock.Locker
	cache         Invalidator
	window        time.Duration
	interval      time.Duration
	remoteTimeout time.Duration
	limiter       *rate.Limiter
	now           func() time.Time
}

func NewSweeper(repo repository.ThoughtRepository, messenger platform.Messenger, locker lock.Locker, cache Invalidator, window, interval, remoteTimeout time.Duration, ratePerSecond float64) *Sweeper {
	if window <= 0 {
		window = 365 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if remoteTimeout <= 0 {
		remoteTimeout = 10 * time.Second
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 2
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Sweeper{
		repo:          repo,
		messenger:     messenger,
		locker:        locker,
		cache:         cache,
		window:        window,
		interval:      interval,
		remoteTimeout: remoteTimeout,
		limiter:       rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Start 启动定时清理；返回停止函数
func (s *Sweeper) Start() func(context.Context) error {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithCancel(context.Background())
				go func() {
					select {
					case <-stop:
						cancel()
					case <-ctx.Done():
					}
				}()
				if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrSweepRunning) {
					logger.Error("retention sweep failed", zap.Error(err))
				}
				cancel()
			}
		}
	}()
	return func(ctx context.Context) error {
		close(stop)
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce 执行一次清理。候选集在开始时确定；单条失败只记录，不中断。
func (s *Sweeper) RunOnce(ctx context.Context) (*SweepReport, error) {
	ctx, span := tracer.Start(ctx, "Sweeper.RunOnce")
	defer span.End()

	release, ok, err := s.locker.TryLock(ctx, sweepLockKey, sweepLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSweepRunning
	}
	defer release()

	start := time.Now()
	cutoff := s.now().Add(-s.window)
	candidates, err := s.repo.ListOlderThan(ctx, cutoff)
	if err != nil {
		return nil, persistence("list sweep candidates", err)
	}

	report := &SweepReport{Scanned: len(candidates)}
	for _, t := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		purge, err := s.shouldPurge(ctx, t)
		if err != nil {
			report.Failed++
			metrics.SweepFailed.Inc()
			logger.Warn("sweep candidate skipped", zap.Uint64("post_id", t.ID), zap.Error(err))
			continue
		}
		if !purge {
			report.Kept++
			continue
		}
		if _, err := s.repo.Delete(ctx, t.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			report.Failed++
			metrics.SweepFailed.Inc()
			logger.Warn("sweep purge failed", zap.Uint64("post_id", t.ID), zap.Error(err))
			continue
		}
		report.Purged++
		metrics.SweepPurged.Inc()
	}

	if report.Purged > 0 && s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			logger.Warn("invalidate feed cache", zap.Error(err))
		}
	}
	if cnt, err := s.repo.Count(ctx); err == nil {
		metrics.StoredThoughts.Set(float64(cnt))
	}
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	logger.Info("retention sweep finished",
		zap.Int("scanned", report.Scanned), zap.Int("purged", report.Purged),
		zap.Int("kept", report.Kept), zap.Int("failed", report.Failed))
	return report, nil
}

// shouldPurge 私密帖子或没有映射的帖子直接删除；有映射的公开帖子仅在远端确认不存在时删除
func (s *Sweeper) shouldPurge(ctx context.Context, t *model.Thought) (bool, error) {
	if t.IsPrivate || t.Reference == nil {
		return true, nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return false, err
	}
	rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()
	_, err := s.messenger.FetchMessage(rctx, t.Reference.ChannelID, t.Reference.MessageID)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, platform.ErrMessageNotFound):
		return true, nil
	default:
		return false, &DeliveryError{Op: "fetch remote card", Err: err}
	}
}
