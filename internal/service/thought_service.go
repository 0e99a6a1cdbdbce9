package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/d60-Lab/thought-board/internal/cache"
	"github.com/d60-Lab/thought-board/internal/model"
	"github.com/d60-Lab/thought-board/internal/repository"
	"github.com/d60-Lab/thought-board/pkg/logger"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 50
)

// ListQuery 列表/搜索参数；ViewerID 为空表示匿名访问（HTTP 公共接口）
type ListQuery struct {
	ViewerID string
	AuthorID string
	Text     string
	Category string
	Page     int
	Size     int
}

// ListResult 一页结果
type ListResult struct {
	Items []*model.Thought `json:"items"`
	Page  int              `json:"page"`
	Size  int              `json:"size"`
}

// ThoughtService 只读查询。私密帖子只对作者本人可见。
type ThoughtService struct {
	repo  repository.ThoughtRepository
	cache cache.FeedCache
}

func NewThoughtService(repo repository.ThoughtRepository, feed cache.FeedCache) *ThoughtService {
	if feed == nil {
		feed = cache.Noop{}
	}
	return &ThoughtService{repo: repo, cache: feed}
}

func (s *ThoughtService) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	ctx, span := tracer.Start(ctx, "ThoughtService.List")
	defer span.End()

	q.Text = strings.TrimSpace(q.Text)
	q.Category = strings.TrimSpace(q.Category)
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Size <= 0 {
		q.Size = DefaultPageSize
	}
	if q.Size > MaxPageSize {
		q.Size = MaxPageSize
	}

	own := q.AuthorID != "" && q.AuthorID == q.ViewerID
	f := model.ThoughtFilter{
		AuthorID:         q.AuthorID,
		Text:             q.Text,
		Category:         q.Category,
		IncludePrivate:   own,
		ExcludeAnonymous: q.AuthorID != "" && !own,
		Offset:           (q.Page - 1) * q.Size,
		Limit:            q.Size,
	}

	// 只缓存公共视图；作者自己的列表包含私密帖子，不进缓存
	// 版本在查询前确定，回填写入同一版本
	var (
		key string
		ver int64
	)
	if !own {
		v, err := s.cache.Version(ctx)
		if err != nil {
			logger.Warn("feed cache version", zap.Error(err))
		} else {
			key, ver = fmt.Sprintf("a=%s|t=%s|c=%s|p=%d|s=%d", q.AuthorID, q.Text, q.Category, q.Page, q.Size), v
			var cached ListResult
			hit, err := s.cache.Get(ctx, ver, key, &cached)
			if err != nil {
				logger.Warn("feed cache get", zap.Error(err))
			} else if hit {
				return &cached, nil
			}
		}
	}

	items, err := s.repo.Query(ctx, f)
	if err != nil {
		return nil, persistence("query thoughts", err)
	}
	res := &ListResult{Items: items, Page: q.Page, Size: q.Size}
	if key != "" {
		if err := s.cache.Set(ctx, ver, key, res); err != nil {
			logger.Warn("feed cache set", zap.Error(err))
		}
	}
	return res, nil
}

// Get 私密帖子对非作者表现为不存在
func (s *ThoughtService) Get(ctx context.Context, id uint64, viewerID string) (*model.Thought, error) {
	t, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFoundOrForbidden
	}
	if err != nil {
		return nil, persistence("get thought", err)
	}
	if t.IsPrivate && (viewerID == "" || t.AuthorID != viewerID) {
		return nil, ErrNotFoundOrForbidden
	}
	return t, nil
}
