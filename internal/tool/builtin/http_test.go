package builtin

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/tool"
)

func TestHTTPGetReturnsBodyAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	addr := srv.Listener.Addr().(*net.TCPAddr)
	out, err := HTTPGet{}.Execute(context.Background(), map[string]any{"url": srv.URL}, &tool.Context{
		PinnedIP: addr.IP,
	})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, http.StatusOK, out.Data["status"])
	require.Equal(t, "ok", out.Data["body"])
}

func TestHTTPGetMissingURLIsValidationError(t *testing.T) {
	_, err := HTTPGet{}.Execute(context.Background(), map[string]any{}, &tool.Context{})
	require.Error(t, err)
	require.IsType(t, &tool.ValidationError{}, err)
}

func TestHTTPGetDeniesSchemeDowngrade(t *testing.T) {
	from, err := url.Parse("https://example.test/start")
	require.NoError(t, err)
	to, err := url.Parse("http://example.test/next")
	require.NoError(t, err)

	require.Error(t, checkSchemeDowngrade(from, to))
}

func TestHTTPGetAllowsSameSchemeRedirect(t *testing.T) {
	from, err := url.Parse("https://example.test/start")
	require.NoError(t, err)
	to, err := url.Parse("https://example.test/next")
	require.NoError(t, err)

	require.NoError(t, checkSchemeDowngrade(from, to))
}

func TestHTTPGetDeniesRedirectToNewHostWithoutReevaluator(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://example-other-host.invalid/next", http.StatusFound)
	}))
	defer srv.Close()

	addr := srv.Listener.Addr().(*net.TCPAddr)
	_, err := HTTPGet{}.Execute(context.Background(), map[string]any{"url": srv.URL}, &tool.Context{
		PinnedIP: addr.IP,
	})
	require.Error(t, err)
}
