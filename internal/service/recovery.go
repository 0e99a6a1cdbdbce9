package service

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/thought-board/internal/metrics"
	"github.com/d60-Lab/thought-board/internal/model"
	"github.com/d60-Lab/thought-board/internal/platform"
	"github.com/d60-Lab/thought-board/internal/repository"
	"github.com/d60-Lab/thought-board/pkg/identity"
	"github.com/d60-Lab/thought-board/pkg/logger"
)

const historyPageSize = 100

// 纯文本消息里的 ID 形式，按优先级排列
var plainIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bID:\s*(\d+)`),
	regexp.MustCompile(`#(\d+)\b`),
}

// RecoveryRequest 一次恢复任务
type RecoveryRequest struct {
	GuildID    string   `json:"guild_id"`
	ChannelIDs []string `json:"channel_ids"`
	OperatorID string   `json:"operator_id"`
}

// RecoveryReport 汇总结果；Anomalies 记录无法解析或身份存疑的消息
type RecoveryReport struct {
	Recovered int                     `json:"recovered"`
	Skipped   int                     `json:"skipped"`
	Errored   int                     `json:"errored"`
	Anomalies []ReconciliationAnomaly `json:"anomalies,omitempty"`
}

// recoveredRecord 从一条历史消息中解析出的帖子
type recoveredRecord struct {
	PostID     uint64
	Content    string
	Category   string
	ImageURL   string
	AuthorName string
	Marker     string
	Anonymous  bool
	Private    bool
	FromFooter bool
	CreatedAt  time.Time
	MessageID  string
	ChannelID  string
}

// Reconciler 通过扫描频道历史重建帖子与消息映射
type Reconciler struct {
	repo          repository.ThoughtRepository
	messenger     platform.Messenger
	marker        *identity.Marker
	botID         string
	limiter       *rate.Limiter
	remoteTimeout time.Duration
}

func NewReconciler(repo repository.ThoughtRepository, messenger platform.Messenger, marker *identity.Marker, botID string, ratePerSecond float64, remoteTimeout time.Duration) *Reconciler {
	if ratePerSecond <= 0 {
		ratePerSecond = 2
	}
	if remoteTimeout <= 0 {
		remoteTimeout = 10 * time.Second
	}
	return &Reconciler{
		repo:          repo,
		messenger:     messenger,
		marker:        marker,
		botID:         botID,
		limiter:       rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		remoteTimeout: remoteTimeout,
	}
}

// Recover 扫描给定频道。中途取消时返回已完成部分的统计和 ctx.Err()；每条插入独立提交，可重复执行。
func (r *Reconciler) Recover(ctx context.Context, req RecoveryRequest) (*RecoveryReport, error) {
	ctx, span := tracer.Start(ctx, "Reconciler.Recover")
	defer span.End()

	report := &RecoveryReport{}
	if len(req.ChannelIDs) == 0 {
		return report, &ValidationError{Field: "channel_ids", Constraint: "must not be empty"}
	}
	if req.OperatorID == "" {
		return report, &ValidationError{Field: "operator_id", Constraint: "must not be empty"}
	}

	var members []platform.Member
	if req.GuildID != "" {
		var err error
		members, err = r.loadMembers(ctx, req.GuildID)
		if err != nil {
			// 没有成员列表时仍可恢复内容，只是作者无法确定
			logger.Warn("recovery without member list", zap.String("guild_id", req.GuildID), zap.Error(err))
		}
	}

	for _, channelID := range lo.Uniq(req.ChannelIDs) {
		if err := r.scanChannel(ctx, channelID, req.OperatorID, members, report); err != nil {
			return report, err
		}
	}

	logger.Info("recovery finished",
		zap.Int("recovered", report.Recovered), zap.Int("skipped", report.Skipped),
		zap.Int("errored", report.Errored), zap.Int("anomalies", len(report.Anomalies)))
	return report, nil
}

func (r *Reconciler) loadMembers(ctx context.Context, guildID string) ([]platform.Member, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.messenger.Members(ctx, guildID)
}

func (r *Reconciler) scanChannel(ctx context.Context, channelID, operatorID string, members []platform.Member, report *RecoveryReport) error {
	before := ""
	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		hctx, cancel := context.WithTimeout(ctx, r.remoteTimeout)
		page, err := r.messenger.History(hctx, channelID, before, historyPageSize)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			report.Errored++
			report.Anomalies = append(report.Anomalies, ReconciliationAnomaly{ChannelID: channelID, Reason: "history fetch failed: " + err.Error()})
			logger.Error("recovery history fetch failed", zap.String("channel_id", channelID), zap.Error(err))
			return nil
		}
		if len(page) == 0 {
			return nil
		}
		for i := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.recoverMessage(ctx, &page[i], operatorID, members, report)
		}
		before = page[len(page)-1].ID
		if len(page) < historyPageSize {
			return nil
		}
	}
}

func (r *Reconciler) recoverMessage(ctx context.Context, msg *platform.Message, operatorID string, members []platform.Member, report *RecoveryReport) {
	if !r.fromBot(msg) {
		report.Skipped++
		metrics.Recovery.WithLabelValues("skipped").Inc()
		return
	}
	rec, ok := parseRecord(msg)
	if !ok {
		report.Skipped++
		metrics.Recovery.WithLabelValues("skipped").Inc()
		return
	}

	exists, err := r.repo.Exists(ctx, rec.PostID)
	if err != nil {
		r.fail(report, rec, "store lookup failed: "+err.Error())
		return
	}
	if exists {
		report.Skipped++
		metrics.Recovery.WithLabelValues("skipped").Inc()
		return
	}

	authorID, source := r.resolveAuthor(ctx, rec, operatorID, members)
	t := &model.Thought{
		ID:           rec.PostID,
		Content:      rec.Content,
		Category:     rec.Category,
		IsAnonymous:  rec.Anonymous,
		IsPrivate:    rec.Private,
		AuthorID:     authorID,
		Recovered:    true,
		AuthorSource: source,
		CreatedAt:    rec.CreatedAt,
	}
	if rec.ImageURL != "" {
		t.ImageURL = lo.ToPtr(rec.ImageURL)
	}
	if !rec.Anonymous && rec.AuthorName != "" {
		t.DisplayName = lo.ToPtr(rec.AuthorName)
	}

	ref := &model.MessageReference{MessageID: rec.MessageID, ChannelID: rec.ChannelID}
	err = r.repo.CreateWithReference(ctx, t, ref)
	switch {
	case errors.Is(err, repository.ErrAlreadyExists):
		report.Skipped++
		metrics.Recovery.WithLabelValues("skipped").Inc()
		return
	case err != nil:
		r.fail(report, rec, "insert failed: "+err.Error())
		return
	}

	report.Recovered++
	metrics.Recovery.WithLabelValues("recovered").Inc()
	if source == model.AuthorUnknown {
		report.Anomalies = append(report.Anomalies, ReconciliationAnomaly{
			ChannelID: rec.ChannelID, MessageID: rec.MessageID, PostID: rec.PostID,
			Reason: "author could not be resolved",
		})
	}
	if !rec.FromFooter {
		report.Anomalies = append(report.Anomalies, ReconciliationAnomaly{
			ChannelID: rec.ChannelID, MessageID: rec.MessageID, PostID: rec.PostID,
			Reason: "recovered from plain text (low confidence)",
		})
	}
	logger.Debug("thought recovered",
		zap.Uint64("post_id", rec.PostID), zap.String("author_source", string(source)))
}

func (r *Reconciler) fail(report *RecoveryReport, rec *recoveredRecord, reason string) {
	report.Errored++
	metrics.Recovery.WithLabelValues("errored").Inc()
	a := ReconciliationAnomaly{ChannelID: rec.ChannelID, MessageID: rec.MessageID, PostID: rec.PostID, Reason: reason}
	report.Anomalies = append(report.Anomalies, a)
	logger.Warn("recovery item failed", zap.Error(a))
}

func (r *Reconciler) fromBot(msg *platform.Message) bool {
	if r.botID != "" {
		return msg.AuthorID == r.botID
	}
	return msg.FromBot
}

// resolveAuthor 依次尝试：哈希标记、已有映射、显示名唯一匹配、匿名占位（记为操作者）
func (r *Reconciler) resolveAuthor(ctx context.Context, rec *recoveredRecord, operatorID string, members []platform.Member) (string, model.AuthorSource) {
	if rec.Marker != "" && r.marker != nil {
		for _, m := range members {
			if r.marker.Match(rec.Marker, rec.PostID, m.UserID) {
				return m.UserID, model.AuthorHashedMarker
			}
		}
	}

	if ref, err := r.repo.FindReferenceByMessageID(ctx, rec.MessageID); err == nil && ref.PostID != rec.PostID {
		if t, err := r.repo.Get(ctx, ref.PostID); err == nil && t.AuthorID != model.UnknownAuthorID {
			return t.AuthorID, model.AuthorReference
		}
	}

	if !rec.Anonymous && rec.AuthorName != "" {
		want := norm.NFC.String(rec.AuthorName)
		matches := lo.Filter(members, func(m platform.Member, _ int) bool {
			return lo.ContainsBy(m.Names(), func(n string) bool { return norm.NFC.String(n) == want })
		})
		if len(matches) == 1 {
			return matches[0].UserID, model.AuthorDisplayName
		}
		return model.UnknownAuthorID, model.AuthorUnknown
	}

	if rec.Anonymous {
		return operatorID, model.AuthorOperator
	}
	return model.UnknownAuthorID, model.AuthorUnknown
}

// parseRecord 优先解析卡片页脚，退而求其次匹配纯文本中的 ID
func parseRecord(msg *platform.Message) (*recoveredRecord, bool) {
	for _, card := range msg.Cards {
		f, ok := ParseFooter(card.Footer)
		if !ok {
			continue
		}
		body := strings.TrimSpace(card.Body)
		if body == "" {
			return nil, false
		}
		ts := card.Timestamp
		if ts.IsZero() {
			ts = msg.Timestamp
		}
		return &recoveredRecord{
			PostID:     f.PostID,
			Content:    body,
			Category:   lo.Ternary(f.Category == "", model.DefaultCategory, f.Category),
			ImageURL:   card.ImageURL,
			AuthorName: card.AuthorName,
			Marker:     f.Marker,
			Anonymous:  card.AuthorName == AnonymousName,
			Private:    card.Color == colorPrivate,
			FromFooter: true,
			CreatedAt:  ts.UTC(),
			MessageID:  msg.ID,
			ChannelID:  msg.ChannelID,
		}, true
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil, false
	}
	for _, re := range plainIDPatterns {
		m := re.FindStringSubmatchIndex(content)
		if m == nil {
			continue
		}
		id, err := strconv.ParseUint(content[m[2]:m[3]], 10, 64)
		if err != nil || id == 0 {
			continue
		}
		body := strings.TrimSpace(content[:m[0]] + content[m[1]:])
		if body == "" {
			return nil, false
		}
		return &recoveredRecord{
			PostID:    id,
			Content:   body,
			Category:  model.DefaultCategory,
			CreatedAt: msg.Timestamp.UTC(),
			MessageID: msg.ID,
			ChannelID: msg.ChannelID,
		}, true
	}
	return nil, false
}
