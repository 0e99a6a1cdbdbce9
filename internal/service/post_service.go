package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/d60-Lab/thought-board/internal/metrics"
	"github.com/d60-Lab/thought-board/internal/model"
	"github.com/d60-Lab/thought-board/internal/platform"
	"github.com/d60-Lab/thought-board/internal/repository"
	"github.com/d60-Lab/thought-board/pkg/logger"
	"github.com/d60-Lab/thought-board/pkg/monitor"
)

var tracer = otel.Tracer("github.com/d60-Lab/thought-board/internal/service")

// DeliveryOutcome 卡片投递结果，与落库结果分开报告
type DeliveryOutcome string

const (
	DeliveredBroadcast DeliveryOutcome = "delivered_broadcast"
	DeliveredPrivate   DeliveryOutcome = "delivered_private"
	DeliveryFailed     DeliveryOutcome = "delivery_failed"
)

// SubmitInput 一次提交（来自 modal 表单）
type SubmitInput struct {
	Content     string `validate:"required,max=2000"`
	Category    string `validate:"max=64,excludesall=0x7C"` // 0x7C 即 |，页脚分隔符
	ImageURL    string `validate:"omitempty,max=512,url"`
	Anonymous   bool
	Private     bool
	Author      platform.Identity
	Destination platform.Destination
}

// EditInput 编辑内容或分类，nil 表示不改
type EditInput struct {
	PostID      uint64
	RequesterID string
	Content     *string
	Category    *string
}

// Receipt 提交回执；Outcome 为 DeliveryFailed 时帖子依然已保存
type Receipt struct {
	PostID      uint64
	Outcome     DeliveryOutcome
	Reference   *model.MessageReference
	Indexed     bool
	DeliveryErr *DeliveryError
}

// Degraded 已保存但未能正常展示或建立映射
func (r *Receipt) Degraded() bool {
	return r.Outcome == DeliveryFailed || (r.Outcome == DeliveredBroadcast && !r.Indexed)
}

// EditReceipt 编辑结果；RemoteUpdated 为 false 时远端卡片仍是旧内容
type EditReceipt struct {
	Thought       *model.Thought
	RemoteUpdated bool
	DeliveryErr   *DeliveryError
}

// Invalidator 写操作后使公共列表缓存失效
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// PostService 提交与编辑流程
type PostService struct {
	repo          repository.ThoughtRepository
	messenger     platform.Messenger
	renderer      *CardRenderer
	cache         Invalidator
	validate      *validator.Validate
	remoteTimeout time.Duration
}

func NewPostService(repo repository.ThoughtRepository, messenger platform.Messenger, renderer *CardRenderer, cache Invalidator, remoteTimeout time.Duration) *PostService {
	if remoteTimeout <= 0 {
		remoteTimeout = 10 * time.Second
	}
	return &PostService{
		repo:          repo,
		messenger:     messenger,
		renderer:      renderer,
		cache:         cache,
		validate:      validator.New(),
		remoteTimeout: remoteTimeout,
	}
}

// Submit 校验、落库、投递。落库失败返回错误；投递失败只体现在回执里。
func (s *PostService) Submit(ctx context.Context, in SubmitInput) (*Receipt, error) {
	ctx, span := tracer.Start(ctx, "PostService.Submit")
	defer span.End()

	in.Content = strings.TrimSpace(in.Content)
	in.Category = strings.TrimSpace(in.Category)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	if in.Category == "" {
		in.Category = model.DefaultCategory
	}
	if in.Author.UserID == "" {
		return nil, &ValidationError{Field: "author", Constraint: "is required"}
	}
	if err := s.validateStruct(in); err != nil {
		return nil, err
	}

	t := &model.Thought{
		Content:      in.Content,
		Category:     in.Category,
		IsAnonymous:  in.Anonymous,
		IsPrivate:    in.Private,
		AuthorID:     in.Author.UserID,
		AuthorSource: model.AuthorSubmitted,
	}
	if in.ImageURL != "" {
		t.ImageURL = &in.ImageURL
	}
	if !in.Anonymous && in.Author.DisplayName != "" {
		name := in.Author.DisplayName
		t.DisplayName = &name
	}

	if err := s.repo.Create(ctx, t); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist thought")
		monitor.CaptureError(err)
		return nil, persistence("create thought", err)
	}
	span.SetAttributes(attribute.Int64("thought.id", int64(t.ID)), attribute.Bool("thought.private", t.IsPrivate))
	s.invalidate(ctx)

	card := s.renderer.Render(t, in.Author.AvatarURL)
	receipt := &Receipt{PostID: t.ID}

	sent, err := s.deliver(ctx, t, card, in.Destination)
	if err != nil {
		receipt.Outcome = DeliveryFailed
		receipt.DeliveryErr = &DeliveryError{Op: "deliver thought", Err: err}
		logger.Warn("thought saved but not delivered",
			zap.Uint64("post_id", t.ID), zap.Bool("private", t.IsPrivate), zap.Error(err))
		metrics.Submissions.WithLabelValues(string(receipt.Outcome)).Inc()
		return receipt, nil
	}

	receipt.Outcome = DeliveredBroadcast
	if t.IsPrivate {
		receipt.Outcome = DeliveredPrivate
	}

	ref := &model.MessageReference{PostID: t.ID, MessageID: sent.MessageID, ChannelID: sent.ChannelID}
	if err := s.repo.CreateReference(ctx, ref); err != nil {
		// 远端消息已发出但没有索引，留给恢复流程处理
		logger.Error("message reference not recorded",
			zap.Uint64("post_id", t.ID), zap.String("message_id", sent.MessageID), zap.Error(err))
		monitor.CaptureError(err)
	} else {
		receipt.Reference = ref
		receipt.Indexed = true
	}

	metrics.Submissions.WithLabelValues(string(receipt.Outcome)).Inc()
	return receipt, nil
}

func (s *PostService) deliver(ctx context.Context, t *model.Thought, card platform.Card, dest platform.Destination) (platform.SentMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()

	if t.IsPrivate {
		return s.messenger.SendDirect(ctx, t.AuthorID, card)
	}
	if dest.ChannelID == "" {
		return platform.SentMessage{}, errors.New("no destination channel")
	}
	return s.messenger.SendChannel(ctx, dest.ChannelID, card)
}

// Edit 只有作者能编辑；远端卡片尽力同步
func (s *PostService) Edit(ctx context.Context, in EditInput) (*EditReceipt, error) {
	ctx, span := tracer.Start(ctx, "PostService.Edit")
	defer span.End()

	upd := model.ThoughtUpdate{}
	if in.Content != nil {
		c := strings.TrimSpace(*in.Content)
		if err := s.validateVar("content", c, "required,max=2000"); err != nil {
			return nil, err
		}
		upd.Content = &c
	}
	if in.Category != nil {
		c := strings.TrimSpace(*in.Category)
		if c == "" {
			c = model.DefaultCategory
		}
		if err := s.validateVar("category", c, "max=64,excludesall=0x7C"); err != nil {
			return nil, err
		}
		upd.Category = &c
	}

	t, err := s.repo.UpdateOwned(ctx, in.PostID, in.RequesterID, upd)
	if errors.Is(err, repository.ErrNotFoundOrForbidden) {
		return nil, ErrNotFoundOrForbidden
	}
	if err != nil {
		monitor.CaptureError(err)
		return nil, persistence("update thought", err)
	}
	s.invalidate(ctx)

	receipt := &EditReceipt{Thought: t}
	ref, err := s.repo.GetReference(ctx, t.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Warn("load message reference for edit", zap.Uint64("post_id", t.ID), zap.Error(err))
		}
		return receipt, nil
	}

	rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()
	if err := s.messenger.EditMessage(rctx, ref.ChannelID, ref.MessageID, s.renderer.Render(t, "")); err != nil {
		receipt.DeliveryErr = &DeliveryError{Op: "edit remote card", Err: err}
		logger.Warn("remote card not updated", zap.Uint64("post_id", t.ID), zap.Error(err))
		return receipt, nil
	}
	receipt.RemoteUpdated = true
	return receipt, nil
}

func (s *PostService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		logger.Warn("invalidate feed cache", zap.Error(err))
	}
}

func (s *PostService) validateStruct(in SubmitInput) error {
	err := s.validate.Struct(in)
	return validationError(err, map[string]string{"Content": "content", "Category": "category", "ImageURL": "image URL"})
}

func (s *PostService) validateVar(field, value, tag string) error {
	err := s.validate.Var(value, tag)
	return validationError(err, map[string]string{"": field})
}

// validationError 把 validator 的错误转换成只包含第一条违反约束的 ValidationError
func validationError(err error, names map[string]string) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Field: "input", Constraint: err.Error()}
	}
	fe := verrs[0]
	field, ok := names[fe.Field()]
	if !ok {
		field = strings.ToLower(fe.Field())
	}
	return &ValidationError{Field: field, Constraint: describe(fe)}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "url":
		return "must be a valid URL"
	case "excludesall":
		return "must not contain " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}
