package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", JWTAuth(secret, "tb"), func(c *gin.Context) {
		c.String(http.StatusOK, OperatorID(c))
	})
	return r
}

func doAdmin(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := newAuthRouter("s3cret")

	token, err := IssueToken("s3cret", "tb", "op-1", time.Hour)
	require.NoError(t, err)
	w := doAdmin(r, token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "op-1", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, doAdmin(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, doAdmin(r, "garbage").Code)

	wrongKey, err := IssueToken("other", "tb", "op-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, doAdmin(r, wrongKey).Code)

	wrongIssuer, err := IssueToken("s3cret", "someone", "op-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, doAdmin(r, wrongIssuer).Code)

	expired, err := IssueToken("s3cret", "tb", "op-1", -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, doAdmin(r, expired).Code)
}

func TestJWTAuthDisabled(t *testing.T) {
	r := newAuthRouter("")
	assert.Equal(t, http.StatusServiceUnavailable, doAdmin(r, "anything").Code)
}

func TestIssueTokenRequiresInputs(t *testing.T) {
	_, err := IssueToken("", "tb", "op", time.Hour)
	assert.Error(t, err)
	_, err = IssueToken("s", "tb", "", time.Hour)
	assert.Error(t, err)
}
