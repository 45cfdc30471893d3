package sigauth_test

import (
	"context"
	"testing"
	"time"

	"github.com/layer-3/sigauth"
	"github.com/layer-3/sigauth/adapters/signature"
	"github.com/layer-3/sigauth/adapters/store"
	"github.com/layer-3/sigauth/adapters/tokenizer"
	"github.com/layer-3/sigauth/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ sigauth.Authenticator = (*service.AuthService)(nil)

func TestAuthenticatorContract(t *testing.T) {
	const wallet = "0x52908400098527886e0f7030069857d2e4169ee7"
	ctx := context.Background()

	tokens, err := tokenizer.NewJWTTokenizer(tokenizer.Config{
		Secret:   "contract-test-secret-at-least-32-chars",
		Issuer:   "sigauth",
		Audience: "sigauth-api",
	})
	require.NoError(t, err)

	roleStore := store.NewMemoryRoleStore()
	_, err = roleStore.PutIfAbsent(ctx, wallet, sigauth.RoleCreator, time.Now())
	require.NoError(t, err)

	var auth sigauth.Authenticator = service.NewAuthService(service.Deps{
		Challenges: service.NewChallengeService(store.NewMemoryChallengeStore(0), service.ChallengeConfig{}, nil, nil, nil),
		Roles:      service.NewRoleResolver(roleStore, nil, 0),
		Verifier:   signature.NewEthVerifier(),
		Tokens:     tokens,
		Sessions:   store.NewMemorySessionStore(),
	}, service.AuthConfig{})

	access, err := tokens.IssueAccessToken(wallet, sigauth.RoleCreator)
	require.NoError(t, err)

	id, err := auth.VerifyBearer(access.Token)
	require.NoError(t, err)
	assert.Equal(t, sigauth.Identity{Wallet: wallet, Role: sigauth.RoleCreator}, id)

	_, err = auth.VerifyBearer(access.Token + "x")
	assert.Error(t, err)

	assert.True(t, auth.HasRole(ctx, wallet, sigauth.RoleCreator))
	assert.False(t, auth.HasRole(ctx, wallet, sigauth.RoleTrader))
}
