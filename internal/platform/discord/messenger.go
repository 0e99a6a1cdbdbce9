// Package discord adapts a discordgo session to platform.Messenger and routes
// slash commands, modals and DM text commands to the services.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/d60-Lab/thought-board/internal/platform"
)

const membersPageSize = 1000

// Messenger implements platform.Messenger on top of the Discord REST API.
type Messenger struct {
	s *discordgo.Session
}

func NewMessenger(s *discordgo.Session) *Messenger {
	return &Messenger{s: s}
}

func (m *Messenger) SendChannel(ctx context.Context, channelID string, card platform.Card) (platform.SentMessage, error) {
	msg, err := m.s.ChannelMessageSendEmbed(channelID, toEmbed(card), discordgo.WithContext(ctx))
	if err != nil {
		return platform.SentMessage{}, mapError(err)
	}
	return platform.SentMessage{MessageID: msg.ID, ChannelID: msg.ChannelID}, nil
}

func (m *Messenger) SendDirect(ctx context.Context, userID string, card platform.Card) (platform.SentMessage, error) {
	ch, err := m.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.SentMessage{}, fmt.Errorf("open dm channel: %w", mapError(err))
	}
	return m.SendChannel(ctx, ch.ID, card)
}

func (m *Messenger) EditMessage(ctx context.Context, channelID, messageID string, card platform.Card) error {
	_, err := m.s.ChannelMessageEditEmbed(channelID, messageID, toEmbed(card), discordgo.WithContext(ctx))
	return mapError(err)
}

func (m *Messenger) FetchMessage(ctx context.Context, channelID, messageID string) (*platform.Message, error) {
	msg, err := m.s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	out := fromMessage(msg)
	return &out, nil
}

func (m *Messenger) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return mapError(m.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (m *Messenger) History(ctx context.Context, channelID, beforeID string, limit int) ([]platform.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	msgs, err := m.s.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]platform.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, fromMessage(msg))
	}
	return out, nil
}

func (m *Messenger) Members(ctx context.Context, guildID string) ([]platform.Member, error) {
	var out []platform.Member
	after := ""
	for {
		page, err := m.s.GuildMembers(guildID, after, membersPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapError(err)
		}
		for _, mem := range page {
			if mem.User == nil {
				continue
			}
			out = append(out, toMember(mem))
			after = mem.User.ID
		}
		if len(page) < membersPageSize {
			return out, nil
		}
	}
}

func toEmbed(c platform.Card) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Description: c.Body,
		Color:       c.Color,
		Footer:      &discordgo.MessageEmbedFooter{Text: c.Footer},
	}
	if c.AuthorName != "" {
		e.Author = &discordgo.MessageEmbedAuthor{Name: c.AuthorName, IconURL: c.AuthorIconURL}
	}
	if c.ImageURL != "" {
		e.Image = &discordgo.MessageEmbedImage{URL: c.ImageURL}
	}
	if !c.Timestamp.IsZero() {
		e.Timestamp = c.Timestamp.UTC().Format(time.RFC3339)
	}
	return e
}

func fromEmbed(e *discordgo.MessageEmbed) platform.Card {
	c := platform.Card{Body: e.Description, Color: e.Color}
	if e.Author != nil {
		c.AuthorName = e.Author.Name
		c.AuthorIconURL = e.Author.IconURL
	}
	if e.Footer != nil {
		c.Footer = e.Footer.Text
	}
	if e.Image != nil {
		c.ImageURL = e.Image.URL
	}
	if ts, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
		c.Timestamp = ts.UTC()
	}
	return c
}

func fromMessage(msg *discordgo.Message) platform.Message {
	out := platform.Message{
		ID:        msg.ID,
		ChannelID: msg.ChannelID,
		Content:   msg.Content,
		Timestamp: msg.Timestamp.UTC(),
	}
	if msg.Author != nil {
		out.AuthorID = msg.Author.ID
		out.FromBot = msg.Author.Bot
	}
	for _, e := range msg.Embeds {
		if e != nil {
			out.Cards = append(out.Cards, fromEmbed(e))
		}
	}
	return out
}

func toMember(mem *discordgo.Member) platform.Member {
	return platform.Member{
		UserID:      mem.User.ID,
		Username:    mem.User.Username,
		GlobalName:  mem.User.GlobalName,
		Nick:        mem.Nick,
		DisplayName: displayName(mem.User, mem),
	}
}

// displayName 服务器昵称优先，其次全局显示名，最后用户名
func displayName(u *discordgo.User, mem *discordgo.Member) string {
	if mem != nil && mem.Nick != "" {
		return mem.Nick
	}
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// mapError 把 Discord REST 错误归一为 platform 哨兵错误
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return err
	}
	if rest.Message != nil && rest.Message.Code == discordgo.ErrCodeUnknownMessage {
		return fmt.Errorf("%w: %v", platform.ErrMessageNotFound, err)
	}
	if rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", platform.ErrMessageNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", platform.ErrForbidden, err)
		}
	}
	return err
}
