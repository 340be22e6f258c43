package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
)

const maxSnapshotBytes = 1 << 20

// Fetcher loads the current snapshot of a match.
type Fetcher interface {
	Fetch(ctx context.Context, matchID int) (*domain.MatchLiveState, error)
}

// HTTPFetcher reads GET /api/matches/:id. A 404 is reported as
// domain.ErrMatchNotFound.
type HTTPFetcher struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
}

func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, matchID int) (*domain.MatchLiveState, error) {
	url := f.BaseURL + "/api/matches/" + strconv.Itoa(matchID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch match %d: %w", matchID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, domain.ErrMatchNotFound
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("failed to fetch match %d: unexpected status %d", matchID, resp.StatusCode)
	}

	var match domain.MatchLiveState
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSnapshotBytes)).Decode(&match); err != nil {
		return nil, fmt.Errorf("failed to decode match %d: %w", matchID, err)
	}
	match.Normalize()
	return &match, nil
}
