package model

import "time"

const (
	// DefaultCategory 未填写分类时的占位值
	DefaultCategory = "uncategorized"
	// UnknownAuthorID 恢复流程无法确定作者时使用，正常创建不会出现
	UnknownAuthorID = "0"

	MaxContentLength  = 2000
	MaxCategoryLength = 64
)

// AuthorSource 作者身份的来源；除 submitted 外都是恢复流程推断的结果
type AuthorSource string

const (
	AuthorSubmitted    AuthorSource = "submitted"
	AuthorHashedMarker AuthorSource = "hashed_marker"
	AuthorReference    AuthorSource = "reference"
	AuthorDisplayName  AuthorSource = "display_name"
	AuthorOperator     AuthorSource = "operator"
	AuthorUnknown      AuthorSource = "unknown"
)

// Thought 用户提交的一条想法（canonical post）
type Thought struct {
	ID           uint64            `json:"id" gorm:"primaryKey;autoIncrement"`
	Content      string            `json:"content" gorm:"type:text;not null"`
	Category     string            `json:"category" gorm:"type:varchar(64);not null;default:uncategorized;index:idx_thought_category"`
	ImageURL     *string           `json:"image_url,omitempty" gorm:"type:varchar(512)"`
	IsAnonymous  bool              `json:"is_anonymous" gorm:"not null;default:false"`
	IsPrivate    bool              `json:"is_private" gorm:"not null;default:false"`
	AuthorID     string            `json:"-" gorm:"type:varchar(32);not null;index:idx_thought_author"`
	DisplayName  *string           `json:"display_name,omitempty" gorm:"type:varchar(128)"`
	Recovered    bool              `json:"recovered" gorm:"not null;default:false"`
	AuthorSource AuthorSource      `json:"author_source" gorm:"type:varchar(16);not null;default:submitted"`
	CreatedAt    time.Time         `json:"created_at" gorm:"index:idx_thought_created"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Reference    *MessageReference `json:"-" gorm:"foreignKey:PostID;references:ID;constraint:OnDelete:CASCADE"`
}

func (Thought) TableName() string { return "thoughts" }

// Author 渲染用的作者名；匿名帖子永远返回空
func (t *Thought) Author() string {
	if t.IsAnonymous || t.DisplayName == nil {
		return ""
	}
	return *t.DisplayName
}

// ThoughtUpdate 编辑操作允许修改的字段，nil 表示不修改
type ThoughtUpdate struct {
	Content  *string
	Category *string
}

// ThoughtFilter 列表/搜索条件
type ThoughtFilter struct {
	AuthorID       string
	Text           string
	Category       string
	Since          time.Time
	IncludePrivate bool
	// ExcludeAnonymous 按作者筛选他人帖子时必须为 true，否则会暴露匿名帖子的作者
	ExcludeAnonymous bool
	Offset           int
	Limit            int
}
