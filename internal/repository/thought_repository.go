package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/thought-board/internal/model"
)

var (
	ErrNotFound = errors.New("thought not found")
	// ErrNotFoundOrForbidden 不区分“不存在”和“不是作者”，避免泄露他人私密帖子的存在
	ErrNotFoundOrForbidden = errors.New("thought not found or not owned by requester")
	ErrAlreadyExists       = errors.New("thought already exists")
)

// ThoughtRepository 帖子与消息映射的存储
type ThoughtRepository interface {
	Create(ctx context.Context, t *model.Thought) error
	CreateWithReference(ctx context.Context, t *model.Thought, ref *model.MessageReference) error
	Get(ctx context.Context, id uint64) (*model.Thought, error)
	Exists(ctx context.Context, id uint64) (bool, error)
	UpdateOwned(ctx context.Context, id uint64, ownerID string, upd model.ThoughtUpdate) (*model.Thought, error)
	DeleteOwned(ctx context.Context, id uint64, ownerID string) (*model.MessageReference, error)
	Delete(ctx context.Context, id uint64) (*model.MessageReference, error)
	Query(ctx context.Context, f model.ThoughtFilter) ([]*model.Thought, error)
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]*model.Thought, error)
	Count(ctx context.Context) (int64, error)

	CreateReference(ctx context.Context, ref *model.MessageReference) error
	GetReference(ctx context.Context, postID uint64) (*model.MessageReference, error)
	FindReferenceByMessageID(ctx context.Context, messageID string) (*model.MessageReference, error)
	DeleteReference(ctx context.Context, postID uint64) error
}

type thoughtRepository struct {
	db *gorm.DB
}

func NewThoughtRepository(db *gorm.DB) ThoughtRepository { return &thoughtRepository{db: db} }

// Create 写入帖子，回填自增 ID 与时间戳
func (r *thoughtRepository) Create(ctx context.Context, t *model.Thought) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Create(t).Error
	})
}

// CreateWithReference 在一个事务内写入帖子（保留给定 ID）与其消息映射
func (r *thoughtRepository) CreateWithReference(ctx context.Context, t *model.Thought, ref *model.MessageReference) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(t)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyExists
		}
		if ref != nil {
			// 帖子丢失但映射残留时沿用旧映射
			ref.PostID = t.ID
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(ref).Error; err != nil {
				return err
			}
		}
		if tx.Dialector.Name() == "postgres" {
			// 显式 ID 插入不会推进序列
			return tx.Exec(`SELECT setval(pg_get_serial_sequence('thoughts', 'id'), (SELECT MAX(id) FROM thoughts))`).Error
		}
		return nil
	})
}

func (r *thoughtRepository) Get(ctx context.Context, id uint64) (*model.Thought, error) {
	var t model.Thought
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *thoughtRepository) Exists(ctx context.Context, id uint64) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).Model(&model.Thought{}).Where("id = ?", id).Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

// UpdateOwned 只有作者本人能修改；归属校验与更新是同一条 UPDATE
func (r *thoughtRepository) UpdateOwned(ctx context.Context, id uint64, ownerID string, upd model.ThoughtUpdate) (*model.Thought, error) {
	fields := map[string]any{}
	if upd.Content != nil {
		fields["content"] = *upd.Content
	}
	if upd.Category != nil {
		fields["category"] = *upd.Category
	}

	var out *model.Thought
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(fields) == 0 {
			// 无字段可改时仍需校验归属
			var t model.Thought
			err := tx.Where("id = ? AND author_id = ?", id, ownerID).First(&t).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFoundOrForbidden
			}
			out = &t
			return err
		}
		res := tx.Model(&model.Thought{}).
			Where("id = ? AND author_id = ?", id, ownerID).
			Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFoundOrForbidden
		}
		var t model.Thought
		if err := tx.Where("id = ?", id).First(&t).Error; err != nil {
			return err
		}
		out = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteOwned 先取出消息映射，再按 id + author_id 删除帖子，最后删除映射，同一事务
func (r *thoughtRepository) DeleteOwned(ctx context.Context, id uint64, ownerID string) (*model.MessageReference, error) {
	var captured *model.MessageReference
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ref, err := findReference(tx, "post_id = ?", id)
		if err != nil {
			return err
		}
		res := tx.Where("id = ? AND author_id = ?", id, ownerID).Delete(&model.Thought{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFoundOrForbidden
		}
		if err := tx.Where("post_id = ?", id).Delete(&model.MessageReference{}).Error; err != nil {
			return err
		}
		captured = ref
		return nil
	})
	if err != nil {
		return nil, err
	}
	return captured, nil
}

// Delete 不校验归属的删除（清理任务与管理接口使用）
func (r *thoughtRepository) Delete(ctx context.Context, id uint64) (*model.MessageReference, error) {
	var captured *model.MessageReference
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ref, err := findReference(tx, "post_id = ?", id)
		if err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", id).Delete(&model.MessageReference{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Thought{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		captured = ref
		return nil
	})
	if err != nil {
		return nil, err
	}
	return captured, nil
}

// Query 按条件查询，按创建时间倒序
func (r *thoughtRepository) Query(ctx context.Context, f model.ThoughtFilter) ([]*model.Thought, error) {
	q := r.db.WithContext(ctx).Model(&model.Thought{})
	if f.AuthorID != "" {
		q = q.Where("author_id = ?", f.AuthorID)
	}
	if f.Text != "" {
		q = q.Where("content LIKE ? ESCAPE '\\'", "%"+escapeLike(f.Text)+"%")
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	if !f.IncludePrivate {
		q = q.Where("is_private = ?", false)
	}
	if f.ExcludeAnonymous {
		q = q.Where("is_anonymous = ?", false)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var res []*model.Thought
	err := q.Order("created_at DESC").Order("id DESC").Find(&res).Error
	return res, err
}

// ListOlderThan 返回 created_at 早于 cutoff 的帖子，附带消息映射
func (r *thoughtRepository) ListOlderThan(ctx context.Context, cutoff time.Time) ([]*model.Thought, error) {
	var res []*model.Thought
	err := r.db.WithContext(ctx).
		Preload("Reference").
		Where("created_at < ?", cutoff).
		Order("id").
		Find(&res).Error
	return res, err
}

func (r *thoughtRepository) Count(ctx context.Context) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Thought{}).Count(&cnt).Error
	return cnt, err
}

func (r *thoughtRepository) CreateReference(ctx context.Context, ref *model.MessageReference) error {
	if err := r.db.WithContext(ctx).Create(ref).Error; err != nil {
		return fmt.Errorf("create message reference for %d: %w", ref.PostID, err)
	}
	return nil
}

func (r *thoughtRepository) GetReference(ctx context.Context, postID uint64) (*model.MessageReference, error) {
	ref, err := findReference(r.db.WithContext(ctx), "post_id = ?", postID)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, ErrNotFound
	}
	return ref, nil
}

func (r *thoughtRepository) FindReferenceByMessageID(ctx context.Context, messageID string) (*model.MessageReference, error) {
	ref, err := findReference(r.db.WithContext(ctx), "message_id = ?", messageID)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, ErrNotFound
	}
	return ref, nil
}

func (r *thoughtRepository) DeleteReference(ctx context.Context, postID uint64) error {
	return r.db.WithContext(ctx).Where("post_id = ?", postID).Delete(&model.MessageReference{}).Error
}

// findReference 未找到时返回 (nil, nil)
func findReference(db *gorm.DB, query string, arg any) (*model.MessageReference, error) {
	var refs []model.MessageReference
	if err := db.Where(query, arg).Limit(1).Find(&refs).Error; err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	return &refs[0], nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
