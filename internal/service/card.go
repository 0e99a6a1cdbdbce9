package service

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/d60-Lab/thought-board/internal/model"
	"github.com/d60-Lab/thought-board/internal/platform"
	"github.com/d60-Lab/thought-board/pkg/identity"
)

const (
	// AnonymousName 匿名帖子的作者占位
	AnonymousName = "Anonymous"

	colorPublic    = 0x5865F2
	colorAnonymous = 0x99AAB5
	colorPrivate   = 0x57F287
)

// footerPattern 解析卡片页脚：category: <c> | ID: <n> [| ref: <marker>]
var footerPattern = regexp.MustCompile(`^category: (.*?) \| ID: (\d+)(?: \| ref: ([0-9a-f]+))?$`)

// Footer 页脚格式是恢复流程的解析依据，不能随意修改
func Footer(category string, postID uint64, marker string) string {
	s := fmt.Sprintf("category: %s | ID: %d", category, postID)
	if marker != "" {
		s += " | ref: " + marker
	}
	return s
}

// FooterFields 页脚解析结果
type FooterFields struct {
	Category string
	PostID   uint64
	Marker   string
}

// ParseFooter 解析 Footer 生成的文本
func ParseFooter(s string) (FooterFields, bool) {
	m := footerPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return FooterFields{}, false
	}
	id, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return FooterFields{}, false
	}
	return FooterFields{Category: m[1], PostID: id, Marker: m[3]}, true
}

// CardRenderer 渲染帖子卡片
type CardRenderer struct {
	marker *identity.Marker
}

func NewCardRenderer(marker *identity.Marker) *CardRenderer {
	return &CardRenderer{marker: marker}
}

// Render 匿名帖子不输出任何作者信息（名字、头像）
func (r *CardRenderer) Render(t *model.Thought, avatarURL string) platform.Card {
	card := platform.Card{
		Body:      t.Content,
		Timestamp: t.CreatedAt,
		Color:     colorPublic,
	}
	if t.IsAnonymous {
		card.AuthorName = AnonymousName
		card.Color = colorAnonymous
	} else {
		card.AuthorName = t.Author()
		card.AuthorIconURL = avatarURL
	}
	if t.IsPrivate {
		card.Color = colorPrivate
	}
	if t.ImageURL != nil {
		card.ImageURL = *t.ImageURL
	}

	var marker string
	if r.marker != nil && t.AuthorID != "" && t.AuthorID != model.UnknownAuthorID {
		marker = r.marker.For(t.ID, t.AuthorID)
	}
	card.Footer = Footer(t.Category, t.ID, marker)
	return card
}
