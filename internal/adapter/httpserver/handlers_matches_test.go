package httpserver

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type commandResponse struct {
	Resource string         `json:"resource"`
	Action   string         `json:"action"`
	Status   int            `json:"status"`
	Body     map[string]any `json:"body"`
}

func TestListMatches_Empty(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodGet, "/api/matches", "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, readAll(t, resp))
}

func TestCreateAndGetMatch(t *testing.T) {
	srv := newTestServer(t)
	id := srv.createMatch(t)

	resp := srv.do(t, http.MethodGet, fmt.Sprintf("/api/matches/%d", id), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	match := decodeJSON[domain.MatchLiveState](t, resp)
	assert.Equal(t, id, match.ID)
	assert.Equal(t, "Eagles", match.Opponent)
	assert.Equal(t, int64(1), match.Revision)
	assert.Len(t, match.Sets, domain.LastSet)

	list := decodeJSON[[]domain.MatchSummary](t, srv.do(t, http.MethodGet, "/api/matches", ""))
	assert.Equal(t, []domain.MatchSummary{{ID: id, Date: "2024-10-05", Opponent: "Eagles"}}, list)
}

func TestGetMatch_NotFound(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/api/matches/999", "/api/matches/abc", "/api/matches/-3"} {
		resp := srv.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.Equal(t, "Match not found", decodeJSON[map[string]any](t, resp)["error"], path)
	}
}

func TestCreateMatch_MalformedBody(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodPost, "/api/matches", `{"players":"nope"}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteMatch(t *testing.T) {
	srv := newTestServer(t)
	id := srv.createMatch(t)
	path := fmt.Sprintf("/api/matches/%d", id)

	resp := srv.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, path, "").StatusCode)
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodDelete, path, "").StatusCode)
}

func TestCommand_ScenarioResultThenFinalized(t *testing.T) {
	srv := newTestServer(t)
	id := srv.createMatch(t)
	path := fmt.Sprintf("/api/matches/%d/commands", id)

	resp := srv.do(t, http.MethodPost, path, `{"match":{"set-result":{"resultHome":3,"resultOpp":1}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeJSON[commandResponse](t, resp)
	assert.Equal(t, "match", result.Resource)
	assert.Equal(t, "set-result", result.Action)
	assert.EqualValues(t, 2, result.Body["revision"])

	resp = srv.do(t, http.MethodPost, path, `{"set":{"set-is-final":{"finalizedSets":{"1":true}}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	match := decodeJSON[domain.MatchLiveState](t, srv.do(t, http.MethodGet, fmt.Sprintf("/api/matches/%d", id), ""))
	assert.Equal(t, 3, match.ResultHome)
	assert.Equal(t, 1, match.ResultOpp)
	assert.True(t, match.FinalizedSets[1])
	assert.Equal(t, int64(3), match.Revision)
}

func TestCommand_Rejected(t *testing.T) {
	srv := newTestServer(t)
	id := srv.createMatch(t)
	path := fmt.Sprintf("/api/matches/%d/commands", id)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"set number out of range", `{"set":{"set-home-score":{"setNumber":7,"homeScore":25}}}`, http.StatusBadRequest},
		{"non numeric score", `{"set":{"set-home-score":{"setNumber":1,"homeScore":"abc"}}}`, http.StatusBadRequest},
		{"unknown resource", `{"player":{"create":{}}}`, http.StatusBadRequest},
		{"not an object", `[1,2]`, http.StatusBadRequest},
		{"stale revision", `{"match":{"set-opp-name":{"opponent":"Hawks","expectedRevision":9}}}`, http.StatusConflict},
		{"unknown player", `{"match":{"remove-player":{"player":42}}}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := srv.do(t, http.MethodPost, path, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}

	match := decodeJSON[domain.MatchLiveState](t, srv.do(t, http.MethodGet, fmt.Sprintf("/api/matches/%d", id), ""))
	assert.Equal(t, int64(1), match.Revision)
}

func TestCommand_UnknownMatch(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodPost, "/api/matches/77/commands", `{"match":{"set-opp-name":{"opponent":"Hawks"}}}`)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCommand_RateLimited(t *testing.T) {
	srv := newTestServer(t, withConfig(func(cfg *config.Config) {
		cfg.CommandRateLimit = 0.001
		cfg.CommandRateBurst = 1
	}))
	id := srv.createMatch(t)
	path := fmt.Sprintf("/api/matches/%d/commands", id)

	first := srv.do(t, http.MethodPost, path, `{"match":{"get":{}}}`)
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second := srv.do(t, http.MethodPost, path, `{"match":{"get":{}}}`)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestMatchSchema(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodGet, "/api/schema/match", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	schema := decodeJSON[map[string]any](t, resp)
	assert.Equal(t, "MatchLiveState", schema["title"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "revision")
	assert.Contains(t, props, "sets")
}

func TestUnknownRouteIsStructured(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodGet, "/api/nothing-here", "")

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decodeJSON[map[string]any](t, resp)["type"])
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, withConfig(func(cfg *config.Config) {
		cfg.AllowedOrigins = "https://stats.example.com"
	}))

	req, err := http.NewRequest(http.MethodOptions, srv.http.URL+"/api/matches", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://stats.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := srv.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "https://stats.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
