package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"financerag/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestExtractToken(t *testing.T) {
	assert.Equal(t, "abc", ExtractToken("Bearer abc"))
	assert.Equal(t, "abc", ExtractToken("bearer  abc "))
	assert.Empty(t, ExtractToken("Basic abc"))
	assert.Empty(t, ExtractToken("abc"))
	assert.Empty(t, ExtractToken(""))
}

func TestAdminMiddleware(t *testing.T) {
	issuer, err := auth.NewIssuer("middleware-test-secret", time.Hour, nil)
	require.NoError(t, err)
	token, _, err := issuer.IssueAdminToken("ops")
	require.NoError(t, err)
	am := NewAuthMiddleware(issuer)

	router := gin.New()
	router.GET("/optional", am.OptionalAdmin(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"admin": IsAdmin(c)})
	})
	router.GET("/required", am.RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		path   string
		header string
		code   int
		body   string
	}{
		{"/optional", "", http.StatusOK, `"admin":false`},
		{"/optional", "Bearer " + token, http.StatusOK, `"admin":true`},
		{"/optional", "Bearer garbage", http.StatusUnauthorized, "unauthorized"},
		{"/required", "", http.StatusUnauthorized, "unauthorized"},
		{"/required", "Bearer " + token, http.StatusNoContent, ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, tc.code, w.Code, "%s %q", tc.path, tc.header)
		if tc.body != "" {
			assert.Contains(t, w.Body.String(), tc.body)
		}
	}
}

func TestRequestSizeLimit(t *testing.T) {
	router := gin.New()
	router.POST("/", RequestSizeLimit(8), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("far too large")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "request_too_large")
}

func TestRequestIDAndRateLimitWithoutRedis(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware(), RateLimitMiddleware(nil, 1, time.Minute))
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, w.Body.String(), 32)
		assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "caller-id", w.Body.String())
}
