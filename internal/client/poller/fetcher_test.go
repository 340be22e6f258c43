package poller

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "spectator-test", r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/api/matches/4":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":4,"opponent":"Eagles","resultHome":2,"revision":7,"sets":{"1":{"home":25,"opp":20}}}`))
		case "/api/matches/5":
			_, _ = w.Write([]byte(`{"id":`))
		case "/api/matches/6":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.Error(w, `{"error":"Match not found"}`, http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fetcher := NewHTTPFetcher(srv.URL + "/")
	fetcher.UserAgent = "spectator-test"

	t.Run("snapshot", func(t *testing.T) {
		m, err := fetcher.Fetch(t.Context(), 4)
		require.NoError(t, err)
		assert.Equal(t, 4, m.ID)
		assert.Equal(t, "Eagles", m.Opponent)
		assert.Equal(t, int64(7), m.Revision)
		assert.Len(t, m.Sets, domain.LastSet)
		assert.Equal(t, 25, *m.Sets[1].Home)
		assert.Nil(t, m.Sets[2].Home)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := fetcher.Fetch(t.Context(), 99)
		assert.ErrorIs(t, err, domain.ErrMatchNotFound)
	})

	t.Run("server error", func(t *testing.T) {
		_, err := fetcher.Fetch(t.Context(), 6)
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrMatchNotFound)
		assert.Contains(t, err.Error(), "unexpected status 500")
	})

	t.Run("malformed body", func(t *testing.T) {
		_, err := fetcher.Fetch(t.Context(), 5)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode")
	})
}

func TestHTTPFetcher_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPFetcher(url).Fetch(t.Context(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrMatchNotFound)
}
