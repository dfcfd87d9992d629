package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TreeSnap/Export-Service/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticVerifier map[string]Claims

func (s staticVerifier) Verify(_ context.Context, token string) (Claims, error) {
	c, ok := s[token]
	if !ok {
		return Claims{}, errors.New("bad token")
	}
	return c, nil
}

func scientistClaims() Claims {
	c := Claims{UserID: 4, Name: "Sam"}
	c.RealmAccess.Roles = []string{"offline_access", "scientist"}
	return c
}

func router(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", mw, func(c *gin.Context) {
		v := ViewerFrom(c)
		if v == nil {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, string(v.Role))
	})
	return r
}

func get(r *gin.Engine, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	SetVerifier(staticVerifier{"good": scientistClaims()})
	r := router(RequireAuth())

	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "good").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "Bearer nope").Code)

	w := get(r, "Bearer good")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "scientist", w.Body.String())
}

func TestOptionalAuth(t *testing.T) {
	SetVerifier(staticVerifier{"good": scientistClaims()})
	r := router(OptionalAuth())

	w := get(r, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "anonymous", w.Body.String())

	assert.Equal(t, "scientist", get(r, "Bearer good").Body.String())
	assert.Equal(t, http.StatusUnauthorized, get(r, "Bearer nope").Code)
}

func TestTokenWithoutUserIDIsRejected(t *testing.T) {
	noUser := scientistClaims()
	noUser.UserID = 0
	SetVerifier(staticVerifier{"good": scientistClaims(), "nouser": noUser})

	assert.Equal(t, http.StatusUnauthorized, get(router(RequireAuth()), "Bearer nouser").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router(OptionalAuth()), "Bearer nouser").Code)
	assert.Equal(t, http.StatusOK, get(router(RequireAuth()), "Bearer good").Code)
}

func TestClaimsViewerPicksHighestRole(t *testing.T) {
	c := Claims{UserID: 9, Name: "Ada", IsAnonymous: true}
	c.RealmAccess.Roles = []string{"admin", "scientist"}
	v := c.Viewer()
	assert.Equal(t, models.RoleAdmin, v.Role)
	assert.Equal(t, int64(9), v.ID)
	assert.True(t, v.IsAnonymous)

	c.RealmAccess.Roles = nil
	assert.Equal(t, models.RoleUser, c.Viewer().Role)
}
