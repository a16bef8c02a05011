// Package catalog is a thin keyword-search proxy to an external video
// catalog. It keeps no state; the party server only needs title, link,
// thumbnail and duration to build queue entries.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Result is one search hit, shaped for the queue add flow.
type Result struct {
	VideoID    string `json:"video_id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	Thumbnail  string `json:"thumbnail"`
	Duration   string `json:"duration"`
	Author     string `json:"author"`
	LengthSecs int    `json:"length_seconds"`
}

// Searcher is what the HTTP layer depends on.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// Client queries an Invidious-compatible search API.
type Client struct {
	http    *resty.Client
	baseURL string
}

var _ Searcher = (*Client)(nil)

func New(baseURL string, timeout time.Duration) *Client {
	client := resty.New().
		SetHeader("User-Agent", "KaraYouke-Server/1.0").
		SetTimeout(timeout)
	return &Client{http: client, baseURL: baseURL}
}

type searchItem struct {
	Type          string `json:"type"`
	VideoID       string `json:"videoId"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	LengthSeconds int    `json:"lengthSeconds"`
	Thumbnails    []struct {
		URL string `json:"url"`
	} `json:"videoThumbnails"`
}

// Search returns up to limit video results for the query.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	var items []searchItem
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":    query,
			"type": "video",
		}).
		SetResult(&items).
		Get(c.baseURL + "/api/v1/search")
	if err != nil {
		return nil, fmt.Errorf("query catalog search API: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("catalog search API error (status %d): %s", resp.StatusCode(), resp.String())
	}

	results := make([]Result, 0, limit)
	for _, item := range items {
		if item.Type != "" && item.Type != "video" {
			continue
		}
		if item.VideoID == "" {
			continue
		}
		r := Result{
			VideoID:    item.VideoID,
			Title:      item.Title,
			URL:        "https://www.youtube.com/watch?v=" + item.VideoID,
			Author:     item.Author,
			LengthSecs: item.LengthSeconds,
			Duration:   formatDuration(item.LengthSeconds),
		}
		if len(item.Thumbnails) > 0 {
			r.Thumbnail = item.Thumbnails[0].URL
		}
		results = append(results, r)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func formatDuration(seconds int) string {
	if seconds <= 0 {
		return ""
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
