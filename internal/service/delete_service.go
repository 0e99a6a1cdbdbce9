package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/thought-board/internal/metrics"
	"github.com/d60-Lab/thought-board/internal/model"
	"github.com/d60-Lab/thought-board/internal/platform"
	"github.com/d60-Lab/thought-board/internal/repository"
	"github.com/d60-Lab/thought-board/pkg/logger"
	"github.com/d60-Lab/thought-board/pkg/monitor"
)

// DeleteOutcome 删除结果
type DeleteOutcome string

const (
	Deleted                   DeleteOutcome = "deleted"
	DeletedStoreOnly          DeleteOutcome = "deleted_store_only"
	DeleteNotFoundOrForbidden DeleteOutcome = "not_found_or_forbidden"
)

// DeleteService 删除流程：存储是权威来源，远端消息尽力删除
type DeleteService struct {
	repo          repository.ThoughtRepository
	messenger     platform.Messenger
	cache         Invalidator
	remoteTimeout time.Duration
}

func NewDeleteService(repo repository.ThoughtRepository, messenger platform.Messenger, cache Invalidator, remoteTimeout time.Duration) *DeleteService {
	if remoteTimeout <= 0 {
		remoteTimeout = 10 * time.Second
	}
	return &DeleteService{repo: repo, messenger: messenger, cache: cache, remoteTimeout: remoteTimeout}
}

// Delete 作者删除自己的帖子。只有存储失败会返回 error。
func (s *DeleteService) Delete(ctx context.Context, postID uint64, requesterID string) (DeleteOutcome, error) {
	ctx, span := tracer.Start(ctx, "DeleteService.Delete")
	defer span.End()

	ref, err := s.repo.DeleteOwned(ctx, postID, requesterID)
	if errors.Is(err, repository.ErrNotFoundOrForbidden) {
		metrics.Deletions.WithLabelValues(string(DeleteNotFoundOrForbidden)).Inc()
		return DeleteNotFoundOrForbidden, nil
	}
	if err != nil {
		span.RecordError(err)
		monitor.CaptureError(err)
		return "", persistence("delete thought", err)
	}
	return s.finish(ctx, postID, ref), nil
}

// Purge 不校验归属的删除（管理员）
func (s *DeleteService) Purge(ctx context.Context, postID uint64) (DeleteOutcome, error) {
	ref, err := s.repo.Delete(ctx, postID)
	if errors.Is(err, repository.ErrNotFound) {
		return DeleteNotFoundOrForbidden, nil
	}
	if err != nil {
		monitor.CaptureError(err)
		return "", persistence("purge thought", err)
	}
	return s.finish(ctx, postID, ref), nil
}

func (s *DeleteService) finish(ctx context.Context, postID uint64, ref *model.MessageReference) DeleteOutcome {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			logger.Warn("invalidate feed cache", zap.Error(err))
		}
	}

	outcome := DeletedStoreOnly
	if ref == nil {
		logger.Info("thought deleted without message reference", zap.Uint64("post_id", postID))
	} else if err := s.removeRemote(ctx, ref); err != nil {
		logger.Warn("remote card not removed",
			zap.Uint64("post_id", postID),
			zap.String("channel_id", ref.ChannelID),
			zap.String("message_id", ref.MessageID),
			zap.Error(err))
	} else {
		outcome = Deleted
	}
	metrics.Deletions.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (s *DeleteService) removeRemote(ctx context.Context, ref *model.MessageReference) error {
	ctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()
	return s.messenger.DeleteMessage(ctx, ref.ChannelID, ref.MessageID)
}
