package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/thought-board/config"
	"github.com/d60-Lab/thought-board/internal/model"
	"github.com/d60-Lab/thought-board/internal/platform"
	"github.com/d60-Lab/thought-board/internal/platform/platformtest"
	"github.com/d60-Lab/thought-board/internal/repository"
	"github.com/d60-Lab/thought-board/pkg/database"
	"github.com/d60-Lab/thought-board/pkg/identity"
)

const (
	testChannel = "c1"
	testGuild   = "g1"
	testSalt    = "test-salt"
)

type fixture struct {
	db        *gorm.DB
	repo      repository.ThoughtRepository
	messenger *platformtest.Messenger
	marker    *identity.Marker
	cache     *countingInvalidator
	posts     *PostService
	deletes   *DeleteService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "thoughts.db"),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	f := &fixture{
		db:        db,
		repo:      repository.NewThoughtRepository(db),
		messenger: platformtest.New(),
		marker:    identity.NewMarker(testSalt),
		cache:     &countingInvalidator{},
	}
	f.posts = NewPostService(f.repo, f.messenger, NewCardRenderer(f.marker), f.cache, time.Second)
	f.deletes = NewDeleteService(f.repo, f.messenger, f.cache, time.Second)
	return f
}

func (f *fixture) submit(t *testing.T, userID, content string, private bool) *Receipt {
	t.Helper()
	r, err := f.posts.Submit(context.Background(), SubmitInput{
		Content:     content,
		Private:     private,
		Author:      platform.Identity{UserID: userID, DisplayName: "user-" + userID},
		Destination: platform.Destination{GuildID: testGuild, ChannelID: testChannel},
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) count(t *testing.T) int64 {
	t.Helper()
	n, err := f.repo.Count(context.Background())
	require.NoError(t, err)
	return n
}

func newStoredThought(author, content string) *model.Thought {
	return &model.Thought{
		Content:      content,
		Category:     model.DefaultCategory,
		AuthorID:     author,
		AuthorSource: model.AuthorSubmitted,
	}
}

type countingInvalidator struct {
	mu sync.Mutex
	n  int
}

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return nil
}

func (c *countingInvalidator) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
