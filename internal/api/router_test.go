package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/thought-board/config"
	"github.com/d60-Lab/thought-board/internal/api/handler"
	"github.com/d60-Lab/thought-board/internal/api/middleware"
	"github.com/d60-Lab/thought-board/internal/model"
	"github.com/d60-Lab/thought-board/internal/platform/platformtest"
	"github.com/d60-Lab/thought-board/internal/repository"
	"github.com/d60-Lab/thought-board/internal/service"
	"github.com/d60-Lab/thought-board/pkg/database"
	"github.com/d60-Lab/thought-board/pkg/identity"
)

const testSecret = "router-secret"

type apiFixture struct {
	router *httptestRouter
	repo   repository.ThoughtRepository
	token  string
}

type httptestRouter struct{ h http.Handler }

func (r *httptestRouter) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.h.ServeHTTP(w, req)
	return w
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()
	cfg := &config.Config{
		Server:  config.ServerConfig{Mode: "test"},
		JWT:     config.JWTConfig{Secret: testSecret, Issuer: "tb"},
		Tracing: config.TracingConfig{ServiceName: "thought-board-test"},
	}
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "api.db")})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	sqlDB, err := db.DB()
	require.NoError(t, err)

	repo := repository.NewThoughtRepository(db)
	messenger := platformtest.New()
	reconciler := service.NewReconciler(repo, messenger, identity.NewMarker("salt"), platformtest.BotID, 1000, time.Second)
	h := handler.New(
		service.NewThoughtService(repo, nil),
		service.NewDeleteService(repo, messenger, nil, time.Second),
		service.NewSweeper(repo, messenger, nil, nil, time.Hour, time.Hour, time.Second, 1000),
		service.NewRecoveryRunner(reconciler, nil, 2),
		sqlDB,
	)

	token, err := middleware.IssueToken(testSecret, "tb", "op-1", time.Hour)
	require.NoError(t, err)
	return &apiFixture{router: &httptestRouter{h: NewRouter(cfg, h)}, repo: repo, token: token}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (f *apiFixture) seed(t *testing.T, author, content string, private bool) *model.Thought {
	t.Helper()
	th := &model.Thought{Content: content, Category: "idea", AuthorID: author, IsPrivate: private, AuthorSource: model.AuthorSubmitted}
	require.NoError(t, f.repo.Create(context.Background(), th))
	return th
}

func TestHealthAndMetrics(t *testing.T) {
	f := setupAPI(t)
	assert.Equal(t, http.StatusOK, f.router.do(http.MethodGet, "/healthz", "", "").Code)

	w := f.router.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPublicThoughtEndpoints(t *testing.T) {
	f := setupAPI(t)
	pub := f.seed(t, "u1", "visible", false)
	priv := f.seed(t, "u1", "hidden", true)

	w := f.router.do(http.MethodGet, "/api/v1/thoughts?category=idea", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	items := data["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "visible", item["content"])
	assert.NotContains(t, item, "author_id")

	w = f.router.do(http.MethodGet, "/api/v1/thoughts/"+itoa(pub.ID), "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.router.do(http.MethodGet, "/api/v1/thoughts/"+itoa(priv.ID), "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.router.do(http.MethodGet, "/api/v1/thoughts/abc", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.router.do(http.MethodGet, "/api/v1/thoughts?size=500", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRequiresToken(t *testing.T) {
	f := setupAPI(t)
	assert.Equal(t, http.StatusUnauthorized, f.router.do(http.MethodPost, "/api/v1/admin/sweep", "", "").Code)
	assert.Equal(t, http.StatusOK, f.router.do(http.MethodPost, "/api/v1/admin/sweep", f.token, "").Code)
}

func TestAdminPurge(t *testing.T) {
	f := setupAPI(t)
	th := f.seed(t, "u1", "bad", false)

	w := f.router.do(http.MethodDelete, "/api/v1/admin/thoughts/"+itoa(th.ID), f.token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.router.do(http.MethodDelete, "/api/v1/admin/thoughts/"+itoa(th.ID), f.token, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminRecovery(t *testing.T) {
	f := setupAPI(t)

	w := f.router.do(http.MethodPost, "/api/v1/admin/recovery", f.token, `{"channel_ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.router.do(http.MethodPost, "/api/v1/admin/recovery", f.token, `{"channel_ids":["c1"]}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	runID := decode(t, w)["data"].(map[string]any)["run_id"].(string)

	w = f.router.do(http.MethodGet, "/api/v1/admin/recovery/"+runID, f.token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	run := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "op-1", run["request"].(map[string]any)["operator_id"])

	w = f.router.do(http.MethodGet, "/api/v1/admin/recovery/unknown", f.token, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func itoa(id uint64) string { return strconv.FormatUint(id, 10) }

func TestAuthorFilterNeverMatchesAnonymous(t *testing.T) {
	f := setupAPI(t)
	anon := &model.Thought{Content: "secret confession", Category: "idea", AuthorID: "777", IsAnonymous: true, AuthorSource: model.AuthorSubmitted}
	require.NoError(t, f.repo.Create(context.Background(), anon))
	f.seed(t, "777", "signed", false)

	w := f.router.do(http.MethodGet, "/api/v1/thoughts?author=777", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	items := decode(t, w)["data"].(map[string]any)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "signed", items[0].(map[string]any)["content"])
	assert.NotContains(t, w.Body.String(), "secret confession")

	// 不按作者筛选时匿名帖子照常出现在公共列表里
	w = f.router.do(http.MethodGet, "/api/v1/thoughts", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"].(map[string]any)["items"].([]any), 2)
}
