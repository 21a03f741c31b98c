// Package advisory provides market sentiment and sector ranking inputs used
// to shape the session watchlist before the open. Implementations are
// external services; the engine treats their output as opaque hints.
package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Sentiment labels.
const (
	SentimentBullish = "BULLISH"
	SentimentBearish = "BEARISH"
	SentimentNeutral = "NEUTRAL"
)

// Advisor supplies pre-market hints. Both calls are best-effort: a failed
// advisor never blocks the session, callers fall back to their defaults.
type Advisor interface {
	// Sentiment returns a market sentiment label and a confidence in [0, 1].
	Sentiment(ctx context.Context) (label string, confidence float64, err error)
	// RankSectors orders candidate sectors from most to least favorable.
	RankSectors(ctx context.Context, candidates []string) ([]string, error)
}

// HTTPAdvisor queries a JSON advisory service.
type HTTPAdvisor struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAdvisor creates an advisor backed by an HTTP service.
func NewHTTPAdvisor(baseURL string) *HTTPAdvisor {
	return &HTTPAdvisor{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (a *HTTPAdvisor) Sentiment(ctx context.Context) (string, float64, error) {
	var out struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	}
	if err := a.getJSON(ctx, "/v1/sentiment", &out); err != nil {
		return "", 0, err
	}
	switch out.Label {
	case SentimentBullish, SentimentBearish, SentimentNeutral:
	default:
		return "", 0, fmt.Errorf("advisory: unknown sentiment label %q", out.Label)
	}
	return out.Label, out.Confidence, nil
}

func (a *HTTPAdvisor) RankSectors(ctx context.Context, candidates []string) ([]string, error) {
	body, err := json.Marshal(map[string]any{"sectors": candidates})
	if err != nil {
		return nil, fmt.Errorf("advisory: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/rank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("advisory: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("advisory: rank: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("advisory: rank status %d", resp.StatusCode)
	}

	var out struct {
		Ranked []string `json:"ranked"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("advisory: decode rank: %w", err)
	}
	return out.Ranked, nil
}

func (a *HTTPAdvisor) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("advisory: create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("advisory: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("advisory: %s status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Static is a deterministic advisor for paper trading and tests.
type Static struct {
	Label      string
	Confidence float64
	Order      []string // preferred sector order, unlisted sectors keep input order
}

// NewStatic returns an advisor that always reports neutral sentiment.
func NewStatic() *Static {
	return &Static{Label: SentimentNeutral, Confidence: 0.5}
}

func (s *Static) Sentiment(context.Context) (string, float64, error) {
	return s.Label, s.Confidence, nil
}

func (s *Static) RankSectors(_ context.Context, candidates []string) ([]string, error) {
	if len(s.Order) == 0 {
		out := make([]string, len(candidates))
		copy(out, candidates)
		return out, nil
	}

	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		seen[c] = true
	}
	out := make([]string, 0, len(candidates))
	for _, pref := range s.Order {
		if seen[pref] {
			out = append(out, pref)
			seen[pref] = false
		}
	}
	for _, c := range candidates {
		if seen[c] {
			out = append(out, c)
		}
	}
	return out, nil
}
