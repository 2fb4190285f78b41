package xapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/avermeer/circlesift/internal/common"
	"github.com/avermeer/circlesift/internal/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(&common.SourceConfig{
		BaseURL:     srv.URL,
		BearerToken: "test-token",
		PageSize:    100,
	}, arbor.NewLogger())
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(&common.SourceConfig{}, arbor.NewLogger())
	require.Error(t, err)
}

func TestListFollowing_ParsesPage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "100", r.URL.Query().Get("max_results"))
		w.Write([]byte(`{
			"data": [
				{"id": "1", "username": "alpha", "name": "Alpha", "description": "dev",
				 "verified": true, "public_metrics": {"followers_count": 42}}
			],
			"meta": {"next_token": "page2"}
		}`))
	})

	page, err := client.ListFollowing(context.Background(), "target_1", "")
	require.NoError(t, err)
	require.Len(t, page.Accounts, 1)
	assert.Equal(t, "alpha", page.Accounts[0].Username)
	assert.Equal(t, 42, page.Accounts[0].FollowersCount)
	assert.True(t, page.Accounts[0].Verified)
	assert.Equal(t, "page2", page.NextToken)
}

func TestListFollowing_ErrorClassification(t *testing.T) {
	cases := map[string]struct {
		status int
		check  func(error) bool
	}{
		"unauthorized is auth": {http.StatusUnauthorized, retry.IsAuth},
		"forbidden is auth":    {http.StatusForbidden, retry.IsAuth},
		"rate limited retries": {http.StatusTooManyRequests, retry.IsTransient},
		"server error retries": {http.StatusInternalServerError, retry.IsTransient},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})

			_, err := client.ListFollowing(context.Background(), "target_1", "")
			require.Error(t, err)
			assert.True(t, tc.check(err))
		})
	}
}

func TestListFollowing_MalformedBodyIsValidation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": not-json`))
	})

	_, err := client.ListFollowing(context.Background(), "target_1", "")
	require.Error(t, err)
	assert.True(t, retry.IsValidation(err))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc...", truncate("abcdef", 3))

	// never splits a multi-byte rune
	s := "héllo wörld"
	for n := 0; n <= len(s); n++ {
		out := truncate(s, n)
		assert.True(t, utf8.ValidString(out), "truncate(%q, %d) = %q is not valid UTF-8", s, n, out)
	}
	assert.Equal(t, "h...", truncate("héllo", 2), "cut backs off to the rune boundary")
}
