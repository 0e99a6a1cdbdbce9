// Package platform describes the chat-platform operations the bot core relies
// on. The Discord adapter lives in platform/discord; platformtest provides an
// in-memory implementation for tests.
package platform

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMessageNotFound means the remote message is confirmed gone.
	ErrMessageNotFound = errors.New("remote message not found")
	// ErrForbidden means the bot lacks permission for the remote call.
	ErrForbidden = errors.New("remote call forbidden")
)

// Identity is the acting user.
type Identity struct {
	UserID      string
	DisplayName string
	AvatarURL   string
}

// Destination is where a broadcast card goes.
type Destination struct {
	GuildID   string
	ChannelID string
}

// SentMessage identifies a delivered message.
type SentMessage struct {
	MessageID string
	ChannelID string
}

// Card is the rendered representation of a thought.
type Card struct {
	AuthorName    string
	AuthorIconURL string
	Body          string
	Footer        string
	ImageURL      string
	Timestamp     time.Time
	Color         int
}

// Message is a message read back from channel history.
type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
	FromBot   bool
	Content   string
	Cards     []Card
	Timestamp time.Time
}

// Member is a guild member as seen during recovery.
type Member struct {
	UserID      string
	Username    string
	GlobalName  string
	Nick        string
	DisplayName string
}

// Names returns every name the member can be displayed under, most specific first.
func (m Member) Names() []string {
	var out []string
	for _, n := range []string{m.DisplayName, m.Nick, m.GlobalName, m.Username} {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Messenger is the subset of the chat platform the core needs.
type Messenger interface {
	SendChannel(ctx context.Context, channelID string, card Card) (SentMessage, error)
	SendDirect(ctx context.Context, userID string, card Card) (SentMessage, error)
	EditMessage(ctx context.Context, channelID, messageID string, card Card) error
	FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	// History returns up to limit messages older than beforeID, newest first.
	// An empty beforeID starts at the newest message.
	History(ctx context.Context, channelID, beforeID string, limit int) ([]Message, error)
	Members(ctx context.Context, guildID string) ([]Member, error)
}
