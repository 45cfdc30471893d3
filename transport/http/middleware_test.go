package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/sigauth/core"
	"github.com/stretchr/testify/assert"
)

type recordingAuthorizer struct {
	err   error
	calls []core.Role
}

func (a *recordingAuthorizer) RequireRole(identity core.Identity, role core.Role) error {
	a.calls = append(a.calls, role)
	return a.err
}

func roleRouter(authorizer RoleAuthorizer, identity *core.Identity, reached *bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		if identity != nil {
			c.Set(identityKey, *identity)
		}
		c.Next()
	}, RequireRole(authorizer, core.RoleCreator), func(c *gin.Context) {
		*reached = true
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestRequireRole_DelegatesToAuthorizer(t *testing.T) {
	identity := core.Identity{Wallet: "0xabc", Role: core.RoleTrader}

	t.Run("denied", func(t *testing.T) {
		authz := &recordingAuthorizer{err: &core.RoleRequiredError{Required: core.RoleCreator, Current: core.RoleTrader}}
		var reached bool
		rec := httptest.NewRecorder()
		roleRouter(authz, &identity, &reached).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.JSONEq(t, `{"error":"forbidden","requiredRole":"CREATOR","currentRole":"TRADER"}`, rec.Body.String())
		assert.Equal(t, []core.Role{core.RoleCreator}, authz.calls)
		assert.False(t, reached)
	})

	t.Run("allowed", func(t *testing.T) {
		authz := &recordingAuthorizer{}
		var reached bool
		rec := httptest.NewRecorder()
		roleRouter(authz, &identity, &reached).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.True(t, reached)
	})

	t.Run("no identity", func(t *testing.T) {
		authz := &recordingAuthorizer{}
		var reached bool
		rec := httptest.NewRecorder()
		roleRouter(authz, nil, &reached).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, authz.calls)
		assert.False(t, reached)
	})
}
