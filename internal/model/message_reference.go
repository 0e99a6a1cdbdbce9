package model

import "time"

// MessageReference 帖子与远端消息（频道或私信中的卡片）的映射，每个帖子至多一条
type MessageReference struct {
	PostID    uint64    `json:"post_id" gorm:"primaryKey;autoIncrement:false"`
	MessageID string    `json:"message_id" gorm:"type:varchar(32);not null;index:idx_ref_message"`
	ChannelID string    `json:"channel_id" gorm:"type:varchar(32);not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (MessageReference) TableName() string { return "message_references" }
