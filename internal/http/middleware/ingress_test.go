package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/huddleapps/relay-auth/internal/crypto"
	"github.com/huddleapps/relay-auth/internal/store"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func newIngressTestRouter(t *testing.T) (*miniredis.Miniredis, *store.TokenStore, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	codec, err := crypto.NewCodec(testKey)
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	tokenStore := store.NewTokenStore(client, codec, node, time.Hour, zap.NewNop())

	r := gin.New()
	r.Use(Ingress(tokenStore, "/dashboard", time.Hour, zap.NewNop()))
	r.GET("/anywhere", func(c *gin.Context) {
		c.String(http.StatusOK, "passed through")
	})
	return mr, tokenStore, r
}

func TestIngress_CapturesTokensAndRedirects(t *testing.T) {
	_, tokenStore, r := newIngressTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/anywhere?accessToken=a&refreshToken=r&state=s1", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)

	target, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/dashboard", target.Path)
	require.Empty(t, target.Query().Get("accessToken"))
	require.Empty(t, target.Query().Get("refreshToken"))
	require.Equal(t, "s1", target.Query().Get("state"))

	bundle, err := tokenStore.Get(req.Context(), "s1")
	require.NoError(t, err)
	require.Equal(t, "a", bundle.AccessToken)
	require.Equal(t, "r", bundle.RefreshToken)
	require.InDelta(t, time.Now().Add(time.Hour).Unix(), bundle.ExpiresAt, 5)
}

func TestIngress_SnakeCaseParams(t *testing.T) {
	_, tokenStore, r := newIngressTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/anywhere?access_token=a&refresh_token=r&state=s2", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	_, err := tokenStore.Get(req.Context(), "s2")
	require.NoError(t, err)
}

func TestIngress_FragmentArtifact(t *testing.T) {
	// The host relays the provider's URL fragment as an encoded query
	// string, so the keys arrive mangled.
	_, tokenStore, r := newIngressTestRouter(t)

	w := httptest.NewRecorder()
	raw := "/anywhere?state=s3&" + url.QueryEscape("#access_token") + "=a&refresh_token=r"
	req := httptest.NewRequest(http.MethodGet, raw, nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	bundle, err := tokenStore.Get(req.Context(), "s3")
	require.NoError(t, err)
	require.Equal(t, "a", bundle.AccessToken)
}

func TestIngress_DefaultsStateWhenAbsent(t *testing.T) {
	_, tokenStore, r := newIngressTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/anywhere?accessToken=a&refreshToken=r", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	_, err := tokenStore.Get(req.Context(), "unknown")
	require.NoError(t, err)
}

func TestIngress_NoTokensPassthrough(t *testing.T) {
	_, _, r := newIngressTestRouter(t)

	for _, target := range []string{
		"/anywhere",
		"/anywhere?state=s1",
		"/anywhere?accessToken=only-one",
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusOK, w.Code, "target=%s", target)
	}
}

func TestIngress_PersistenceFailureFallsThrough(t *testing.T) {
	mr, _, r := newIngressTestRouter(t)
	mr.Close()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/anywhere?accessToken=a&refreshToken=r&state=s1", nil)
	r.ServeHTTP(w, req)

	// Never authenticated on a failed write; the request continues as a
	// normal unauthenticated one.
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "passed through", w.Body.String())
}
