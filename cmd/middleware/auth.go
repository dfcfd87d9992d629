package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/TreeSnap/Export-Service/internal/models"
	"github.com/coreos/go-oidc"
	"github.com/gin-gonic/gin"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const viewerKey = "viewer"

// Claims are the token fields a Viewer is built from.
type Claims struct {
	Sub         string `json:"sub"`
	Azp         string `json:"azp"`
	UserID      int64  `json:"treesnap_user_id"`
	Name        string `json:"name"`
	IsAnonymous bool   `json:"is_anonymous"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// Viewer maps the claims onto a Viewer, taking the highest known role.
func (c Claims) Viewer() *models.Viewer {
	role := models.RoleUser
	for _, r := range c.RealmAccess.Roles {
		switch models.ParseRole(r) {
		case models.RoleAdmin:
			role = models.RoleAdmin
		case models.RoleScientist:
			if role != models.RoleAdmin {
				role = models.RoleScientist
			}
		}
	}
	return &models.Viewer{ID: c.UserID, Name: c.Name, Role: role, IsAnonymous: c.IsAnonymous}
}

type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (Claims, error)
}

type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
	clientID string
}

func (v *oidcVerifier) Verify(ctx context.Context, rawToken string) (Claims, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Claims{}, eris.Wrap(err, "auth: verify token")
	}
	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return Claims{}, eris.Wrap(err, "auth: parse claims")
	}
	// access tokens carry the client in azp rather than aud
	if claims.Azp != v.clientID {
		return Claims{}, eris.Errorf("auth: unexpected azp %q", claims.Azp)
	}
	return claims, nil
}

var verifier TokenVerifier

func InitAuth(ctx context.Context, issuerURL, clientID string) error {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return eris.Wrap(err, "auth: discover provider")
	}
	verifier = &oidcVerifier{
		verifier: provider.Verifier(&oidc.Config{SkipClientIDCheck: true}),
		clientID: clientID,
	}
	zap.L().Info("[AUTH] OIDC verifier initialized", zap.String("issuer", issuerURL))
	return nil
}

// SetVerifier replaces the token verifier.
func SetVerifier(v TokenVerifier) {
	verifier = v
}

func bearerToken(c *gin.Context) (string, bool) {
	auth := c.GetHeader("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	return token, auth != "" && token != auth
}

func resolve(c *gin.Context, token string) (*models.Viewer, error) {
	if verifier == nil {
		return nil, eris.New("auth: verifier not initialized")
	}
	claims, err := verifier.Verify(c.Request.Context(), token)
	if err != nil {
		return nil, err
	}
	if claims.UserID <= 0 {
		return nil, eris.Errorf("auth: token for %q carries no user id", claims.Sub)
	}
	return claims.Viewer(), nil
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing auth"})
			return
		}
		v, err := resolve(c, token)
		if err != nil {
			zap.L().Info("[AUTH] verify failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(viewerKey, v)
		c.Next()
	}
}

// OptionalAuth resolves a viewer when a token is sent and lets anonymous
// requests through. A token that is sent but invalid is still rejected.
func OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}
		v, err := resolve(c, token)
		if err != nil {
			zap.L().Info("[AUTH] verify failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(viewerKey, v)
		c.Next()
	}
}

// ViewerFrom returns the resolved viewer, or nil for anonymous requests.
func ViewerFrom(c *gin.Context) *models.Viewer {
	if v, ok := c.Get(viewerKey); ok {
		if viewer, ok := v.(*models.Viewer); ok {
			return viewer
		}
	}
	return nil
}

// SetViewer stores v on the request context.
func SetViewer(c *gin.Context, v *models.Viewer) {
	c.Set(viewerKey, v)
}
