// Package platformtest provides an in-memory platform.Messenger.
package platformtest

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/d60-Lab/thought-board/internal/platform"
)

const BotID = "bot"

// Messenger keeps messages per channel in memory. Error fields, when set,
// are returned by the matching call instead of performing it.
type Messenger struct {
	mu       sync.Mutex
	nextID   int64
	channels map[string][]platform.Message
	members  map[string][]platform.Member

	SendErr    error
	DirectErr  error
	EditErr    error
	FetchErr   error
	DeleteErr  error
	HistoryErr error

	Deleted []string
}

func New() *Messenger {
	return &Messenger{
		nextID:   1000,
		channels: map[string][]platform.Message{},
		members:  map[string][]platform.Member{},
	}
}

// DMChannel is the channel id used for a user's direct messages.
func DMChannel(userID string) string { return "dm-" + userID }

func (m *Messenger) SendChannel(_ context.Context, channelID string, card platform.Card) (platform.SentMessage, error) {
	if m.SendErr != nil {
		return platform.SentMessage{}, m.SendErr
	}
	return m.add(channelID, platform.Message{AuthorID: BotID, FromBot: true, Cards: []platform.Card{card}}), nil
}

func (m *Messenger) SendDirect(_ context.Context, userID string, card platform.Card) (platform.SentMessage, error) {
	if m.DirectErr != nil {
		return platform.SentMessage{}, m.DirectErr
	}
	return m.add(DMChannel(userID), platform.Message{AuthorID: BotID, FromBot: true, Cards: []platform.Card{card}}), nil
}

func (m *Messenger) EditMessage(_ context.Context, channelID, messageID string, card platform.Card) error {
	if m.EditErr != nil {
		return m.EditErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.channels[channelID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].Cards = []platform.Card{card}
			return nil
		}
	}
	return platform.ErrMessageNotFound
}

func (m *Messenger) FetchMessage(_ context.Context, channelID, messageID string) (*platform.Message, error) {
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.channels[channelID] {
		if msg.ID == messageID {
			out := msg
			return &out, nil
		}
	}
	return nil, platform.ErrMessageNotFound
}

func (m *Messenger) DeleteMessage(_ context.Context, channelID, messageID string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	if !m.Remove(channelID, messageID) {
		return platform.ErrMessageNotFound
	}
	m.mu.Lock()
	m.Deleted = append(m.Deleted, messageID)
	m.mu.Unlock()
	return nil
}

func (m *Messenger) History(_ context.Context, channelID, beforeID string, limit int) ([]platform.Message, error) {
	if m.HistoryErr != nil {
		return nil, m.HistoryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := append([]platform.Message(nil), m.channels[channelID]...)
	sort.Slice(msgs, func(i, j int) bool { return idNum(msgs[i].ID) > idNum(msgs[j].ID) })

	var out []platform.Message
	for _, msg := range msgs {
		if beforeID != "" && idNum(msg.ID) >= idNum(beforeID) {
			continue
		}
		out = append(out, msg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Messenger) Members(_ context.Context, guildID string) ([]platform.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]platform.Member(nil), m.members[guildID]...), nil
}

// AddMember registers a guild member.
func (m *Messenger) AddMember(guildID string, member platform.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[guildID] = append(m.members[guildID], member)
}

// Seed appends a message to a channel's history and returns its id.
func (m *Messenger) Seed(channelID string, msg platform.Message) string {
	return m.add(channelID, msg).MessageID
}

// Remove deletes a message out-of-band, reporting whether it existed.
func (m *Messenger) Remove(channelID, messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.channels[channelID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			m.channels[channelID] = append(msgs[:i], msgs[i+1:]...)
			return true
		}
	}
	return false
}

// Messages returns a copy of a channel's messages in send order.
func (m *Messenger) Messages(channelID string) []platform.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]platform.Message(nil), m.channels[channelID]...)
}

func (m *Messenger) add(channelID string, msg platform.Message) platform.SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg.ID = strconv.FormatInt(m.nextID, 10)
	msg.ChannelID = channelID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	m.channels[channelID] = append(m.channels[channelID], msg)
	return platform.SentMessage{MessageID: msg.ID, ChannelID: channelID}
}

func idNum(id string) int64 {
	n, _ := strconv.ParseInt(id, 10, 64)
	return n
}
