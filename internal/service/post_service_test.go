package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/thought-board/internal/model"
	"github.com/d60-Lab/thought-board/internal/platform"
	"github.com/d60-Lab/thought-board/internal/platform/platformtest"
	"github.com/d60-Lab/thought-board/internal/repository"
)

func TestSubmitHello(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.submit(t, "u1", "hello", false)
	assert.Equal(t, DeliveredBroadcast, r.Outcome)
	assert.True(t, r.Indexed)
	assert.False(t, r.Degraded())

	got, err := f.repo.Get(ctx, r.PostID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, model.DefaultCategory, got.Category)
	assert.Equal(t, "u1", got.AuthorID)
	assert.Equal(t, model.AuthorSubmitted, got.AuthorSource)
	assert.False(t, got.Recovered)

	ref, err := f.repo.GetReference(ctx, r.PostID)
	require.NoError(t, err)
	assert.Equal(t, testChannel, ref.ChannelID)

	msgs := f.messenger.Messages(testChannel)
	require.Len(t, msgs, 1)
	assert.Equal(t, ref.MessageID, msgs[0].ID)
	require.Len(t, msgs[0].Cards, 1)
	assert.Contains(t, msgs[0].Cards[0].Footer, fmt.Sprintf("ID: %d", r.PostID))
	assert.Equal(t, "hello", msgs[0].Cards[0].Body)
	assert.Equal(t, 1, f.cache.calls())
}

func TestSubmitPersistsAllFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.posts.Submit(ctx, SubmitInput{
		Content:     "  spaced out  ",
		Category:    "idea",
		ImageURL:    "https://example.com/cat.png",
		Anonymous:   true,
		Author:      platform.Identity{UserID: "u9", DisplayName: "Nine", AvatarURL: "https://cdn/u9.png"},
		Destination: platform.Destination{ChannelID: testChannel},
	})
	require.NoError(t, err)

	got, err := f.repo.Get(ctx, r.PostID)
	require.NoError(t, err)
	assert.Equal(t, "spaced out", got.Content)
	assert.Equal(t, "idea", got.Category)
	require.NotNil(t, got.ImageURL)
	assert.Equal(t, "https://example.com/cat.png", *got.ImageURL)
	assert.True(t, got.IsAnonymous)
	assert.Nil(t, got.DisplayName)
	assert.Equal(t, "u9", got.AuthorID)

	card := f.messenger.Messages(testChannel)[0].Cards[0]
	assert.Equal(t, AnonymousName, card.AuthorName)
	assert.Empty(t, card.AuthorIconURL)
	assert.NotContains(t, card.AuthorName, "Nine")
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	author := platform.Identity{UserID: "u1"}
	dest := platform.Destination{ChannelID: testChannel}

	cases := []struct {
		name  string
		in    SubmitInput
		field string
	}{
		{"empty content", SubmitInput{Content: "   ", Author: author, Destination: dest}, "content"},
		{"too long", SubmitInput{Content: strings.Repeat("a", 2001), Author: author, Destination: dest}, "content"},
		{"pipe in category", SubmitInput{Content: "x", Category: "a|b", Author: author, Destination: dest}, "category"},
		{"long category", SubmitInput{Content: "x", Category: strings.Repeat("c", 65), Author: author, Destination: dest}, "category"},
		{"bad url", SubmitInput{Content: "x", ImageURL: "not a url", Author: author, Destination: dest}, "image URL"},
		{"no author", SubmitInput{Content: "x", Destination: dest}, "author"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.posts.Submit(context.Background(), tc.in)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
			assert.NotEmpty(t, UserMessage(err))
		})
	}
	assert.Zero(t, f.count(t))
	assert.Empty(t, f.messenger.Messages(testChannel))
}

func TestSubmitMaxLengthAccepted(t *testing.T) {
	f := newFixture(t)
	r := f.submit(t, "u1", strings.Repeat("é", 2000), false)
	got, err := f.repo.Get(context.Background(), r.PostID)
	require.NoError(t, err)
	assert.Len(t, []rune(got.Content), 2000)
}

func TestSubmitBroadcastFailureLeavesNoReference(t *testing.T) {
	f := newFixture(t)
	f.messenger.SendErr = errors.New("gateway down")

	r := f.submit(t, "u1", "lost in transit", false)
	assert.Equal(t, DeliveryFailed, r.Outcome)
	require.NotNil(t, r.DeliveryErr)
	assert.True(t, r.Degraded())

	_, err := f.repo.Get(context.Background(), r.PostID)
	require.NoError(t, err)
	_, err = f.repo.GetReference(context.Background(), r.PostID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

// failingReferences 模拟消息已发出但映射写入失败
type failingReferences struct {
	repository.ThoughtRepository
}

func (failingReferences) CreateReference(context.Context, *model.MessageReference) error {
	return errors.New("disk full")
}

func TestSubmitSentButNotIndexed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	posts := NewPostService(failingReferences{f.repo}, f.messenger, NewCardRenderer(f.marker), f.cache, time.Second)

	r, err := posts.Submit(ctx, SubmitInput{
		Content:     "posted but lost",
		Author:      platform.Identity{UserID: "u1", DisplayName: "One"},
		Destination: platform.Destination{GuildID: testGuild, ChannelID: testChannel},
	})
	require.NoError(t, err)
	assert.Equal(t, DeliveredBroadcast, r.Outcome)
	assert.False(t, r.Indexed)
	assert.True(t, r.Degraded())
	assert.Nil(t, r.Reference)
	assert.Nil(t, r.DeliveryErr)

	assert.Len(t, f.messenger.Messages(testChannel), 1)
	_, err = f.repo.Get(ctx, r.PostID)
	require.NoError(t, err)
	_, err = f.repo.GetReference(ctx, r.PostID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSubmitPrivatePersistsDespiteDMFailure(t *testing.T) {
	f := newFixture(t)
	f.messenger.DirectErr = platform.ErrForbidden

	r := f.submit(t, "u1", "secret", true)
	assert.Equal(t, DeliveryFailed, r.Outcome)

	got, err := f.repo.Get(context.Background(), r.PostID)
	require.NoError(t, err)
	assert.True(t, got.IsPrivate)
	assert.Empty(t, f.messenger.Messages(testChannel))
}

func TestSubmitPrivateGoesToDM(t *testing.T) {
	f := newFixture(t)

	r := f.submit(t, "u1", "secret", true)
	assert.Equal(t, DeliveredPrivate, r.Outcome)
	assert.Empty(t, f.messenger.Messages(testChannel))
	assert.Len(t, f.messenger.Messages(platformtest.DMChannel("u1")), 1)
	require.NotNil(t, r.Reference)
	assert.Equal(t, platformtest.DMChannel("u1"), r.Reference.ChannelID)
}

func TestSubmitWithoutChannelIsDeliveryFailure(t *testing.T) {
	f := newFixture(t)
	r, err := f.posts.Submit(context.Background(), SubmitInput{
		Content: "nowhere",
		Author:  platform.Identity{UserID: "u1"},
	})
	require.NoError(t, err)
	assert.Equal(t, DeliveryFailed, r.Outcome)
	assert.Equal(t, int64(1), f.count(t))
}

func TestEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.submit(t, "u1", "first draft", false)

	content := "second draft"
	_, err := f.posts.Edit(ctx, EditInput{PostID: r.PostID, RequesterID: "u2", Content: &content})
	assert.ErrorIs(t, err, ErrNotFoundOrForbidden)

	category := "idea"
	er, err := f.posts.Edit(ctx, EditInput{PostID: r.PostID, RequesterID: "u1", Content: &content, Category: &category})
	require.NoError(t, err)
	assert.True(t, er.RemoteUpdated)
	assert.Equal(t, "second draft", er.Thought.Content)
	assert.Equal(t, "idea", er.Thought.Category)

	card := f.messenger.Messages(testChannel)[0].Cards[0]
	assert.Equal(t, "second draft", card.Body)
	fields, ok := ParseFooter(card.Footer)
	require.True(t, ok)
	assert.Equal(t, "idea", fields.Category)
	assert.Equal(t, r.PostID, fields.PostID)
}

func TestEditRemoteFailureStillUpdatesStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.submit(t, "u1", "draft", false)
	f.messenger.EditErr = errors.New("rate limited")

	content := "final"
	er, err := f.posts.Edit(ctx, EditInput{PostID: r.PostID, RequesterID: "u1", Content: &content})
	require.NoError(t, err)
	assert.False(t, er.RemoteUpdated)
	require.NotNil(t, er.DeliveryErr)

	got, err := f.repo.Get(ctx, r.PostID)
	require.NoError(t, err)
	assert.Equal(t, "final", got.Content)
}

func TestEditValidation(t *testing.T) {
	f := newFixture(t)
	r := f.submit(t, "u1", "draft", false)

	empty := " "
	_, err := f.posts.Edit(context.Background(), EditInput{PostID: r.PostID, RequesterID: "u1", Content: &empty})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "content", ve.Field)
}

func TestCategoryPipeMessage(t *testing.T) {
	f := newFixture(t)
	author := platform.Identity{UserID: "u1"}
	dest := platform.Destination{ChannelID: testChannel}

	_, err := f.posts.Submit(context.Background(), SubmitInput{Content: "x", Category: "a|b", Author: author, Destination: dest})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "must not contain |", ve.Constraint)

	// 只排除 | 本身，不排除 0x7C 这几个字符
	r, err := f.posts.Submit(context.Background(), SubmitInput{Content: "x", Category: "0x7C", Author: author, Destination: dest})
	require.NoError(t, err)
	got, err := f.repo.Get(context.Background(), r.PostID)
	require.NoError(t, err)
	assert.Equal(t, "0x7C", got.Category)
}
