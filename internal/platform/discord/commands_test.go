package discord

import (
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/thought-board/internal/model"
	"github.com/d60-Lab/thought-board/internal/platform"
	"github.com/d60-Lab/thought-board/internal/service"
)

func TestParseDeleteCommand(t *testing.T) {
	cases := []struct {
		in   string
		id   uint64
		want error
	}{
		{"delete 42", 42, nil},
		{"  DELETE   7 ", 7, nil},
		{"delete #9", 9, nil},
		{"delete", 0, ErrDeleteUsage},
		{"delete abc", 0, ErrDeleteUsage},
		{"delete -3", 0, ErrDeleteUsage},
		{"delete 0", 0, ErrDeleteUsage},
		{"delete 1 2", 0, ErrDeleteUsage},
		{"delete 99999999999999999999999", 0, ErrDeleteUsage},
		{"hello there", 0, ErrNotCommand},
		{"", 0, ErrNotCommand},
		{"deleted 4", 0, ErrNotCommand},
	}
	for _, tc := range cases {
		id, err := ParseDeleteCommand(tc.in)
		if tc.want != nil {
			assert.ErrorIs(t, err, tc.want, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.id, id, tc.in)
	}
}

func TestModalIDs(t *testing.T) {
	a, p, ok := parseSubmitModalID(submitModalID(true, false))
	require.True(t, ok)
	assert.True(t, a)
	assert.False(t, p)

	_, _, ok = parseSubmitModalID("thought:yes")
	assert.False(t, ok)
	_, _, ok = parseSubmitModalID("edit:3")
	assert.False(t, ok)

	id, ok := parseEditModalID(editModalID(31))
	require.True(t, ok)
	assert.Equal(t, uint64(31), id)
	_, ok = parseEditModalID("edit:x")
	assert.False(t, ok)
}

func TestModalValues(t *testing.T) {
	data := discordgo.ModalSubmitInteractionData{
		CustomID: submitModalID(false, false),
		Components: []discordgo.MessageComponent{
			&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				&discordgo.TextInput{CustomID: fieldContent, Value: "hello"},
			}},
			&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				&discordgo.TextInput{CustomID: fieldCategory, Value: "idea"},
			}},
		},
	}
	assert.Equal(t, map[string]string{fieldContent: "hello", fieldCategory: "idea"}, modalValues(data))
}

func TestEmbedRoundTrip(t *testing.T) {
	card := platform.Card{
		AuthorName:    "Ada",
		AuthorIconURL: "https://cdn/ada.png",
		Body:          "hello",
		Footer:        "category: idea | ID: 1",
		ImageURL:      "https://example.com/a.png",
		Timestamp:     time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Color:         0x5865F2,
	}
	msg := &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		Author:    &discordgo.User{ID: "bot", Bot: true},
		Embeds:    []*discordgo.MessageEmbed{toEmbed(card)},
	}
	got := fromMessage(msg)
	assert.Equal(t, "m1", got.ID)
	assert.True(t, got.FromBot)
	require.Len(t, got.Cards, 1)
	assert.Equal(t, card, got.Cards[0])
}

func TestAnonymousEmbedHasNoIcon(t *testing.T) {
	e := toEmbed(platform.Card{AuthorName: service.AnonymousName, Body: "x", Footer: "f"})
	require.NotNil(t, e.Author)
	assert.Empty(t, e.Author.IconURL)
	assert.Nil(t, e.Image)
	assert.Empty(t, e.Timestamp)
}

func TestMapError(t *testing.T) {
	unknown := &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMessage},
	}
	assert.ErrorIs(t, mapError(unknown), platform.ErrMessageNotFound)

	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	assert.ErrorIs(t, mapError(forbidden), platform.ErrForbidden)

	server := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusBadGateway}}
	err := mapError(server)
	assert.NotErrorIs(t, err, platform.ErrMessageNotFound)
	assert.NotErrorIs(t, err, platform.ErrForbidden)

	assert.NoError(t, mapError(nil))
}

func TestToMemberNames(t *testing.T) {
	m := toMember(&discordgo.Member{Nick: "Nicky", User: &discordgo.User{ID: "1", Username: "nick", GlobalName: "Nicholas"}})
	assert.Equal(t, "Nicky", m.DisplayName)
	assert.Equal(t, []string{"Nicky", "Nicky", "Nicholas", "nick"}, m.Names())

	m = toMember(&discordgo.Member{User: &discordgo.User{ID: "2", Username: "plain"}})
	assert.Equal(t, "plain", m.DisplayName)
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "Thought #3 posted.", receiptMessage(&service.Receipt{PostID: 3, Outcome: service.DeliveredBroadcast, Indexed: true}))
	assert.Contains(t, receiptMessage(&service.Receipt{PostID: 3, Outcome: service.DeliveryFailed}), "saved")
	assert.Equal(t, "Thought #3 deleted.", deleteMessage(3, service.Deleted))
	assert.Equal(t, service.UserMessage(service.ErrNotFoundOrForbidden), deleteMessage(3, service.DeleteNotFoundOrForbidden))
}

func TestFormatList(t *testing.T) {
	long := make([]rune, 200)
	for i := range long {
		long[i] = 'a'
	}
	res := &service.ListResult{Page: 2, Items: []*model.Thought{
		{ID: 5, Category: "idea", Content: "multi\nline   text"},
		{ID: 4, Category: "diary", Content: string(long), IsPrivate: true},
	}}
	out := formatList("Your thoughts", res)
	assert.Contains(t, out, "(page 2)")
	assert.Contains(t, out, "`#5` [idea] multi line text")
	assert.Contains(t, out, "(private)")
	assert.Contains(t, out, "…")

	assert.Contains(t, formatList("Empty", &service.ListResult{Page: 1}), "Nothing here yet.")
}

func TestApplicationCommandsCoverRegistry(t *testing.T) {
	b := NewBot(nil, "", "", Services{})
	for _, c := range ApplicationCommands() {
		_, ok := b.commands[c.Name]
		assert.True(t, ok, c.Name)
	}
	assert.Len(t, b.commands, len(ApplicationCommands()))
}
