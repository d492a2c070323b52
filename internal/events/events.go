// Package events fetches the club's upcoming events, either from the website's JSON
// API or from an RSS/Atom feed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dietfurt/kolpingbot/internal/models"
	"github.com/mmcdole/gofeed"
)

// DefaultAPIURL is the event endpoint of kolping-dietfurt.de.
const DefaultAPIURL = "https://kolping-dietfurt.de/api/termine"

// Source lists upcoming events in display order.
type Source interface {
	Events(ctx context.Context) ([]models.Event, error)
}

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// APISource reads a JSON array of {title, date, url, image?} objects.
type APISource struct {
	url  string
	http Doer
}

// Compile-time check that APISource implements Source.
var _ Source = (*APISource)(nil)

// NewAPISource creates a source for url. A nil client uses a 10s timeout client.
func NewAPISource(url string, client Doer) *APISource {
	if url == "" {
		url = DefaultAPIURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &APISource{url: url, http: client}
}

func (s *APISource) Events(ctx context.Context) ([]models.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("events request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("events API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var list []models.Event
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}
	out := list[:0]
	for _, e := range list {
		if strings.TrimSpace(e.Title) == "" {
			slog.Debug("APISource.Events: skipping event without title", "url", e.URL)
			continue
		}
		out = append(out, e)
	}
	slog.Debug("APISource.Events: fetched", "count", len(out))
	return out, nil
}

// FeedSource reads events from an RSS or Atom feed. Item title, publication date, link
// and image map onto the event fields.
type FeedSource struct {
	url        string
	parser     *gofeed.Parser
	dateLayout string
}

// Compile-time check that FeedSource implements Source.
var _ Source = (*FeedSource)(nil)

// NewFeedSource creates a source for the feed at url. A nil client uses the parser's default.
func NewFeedSource(url string, client *http.Client) *FeedSource {
	p := gofeed.NewParser()
	if client != nil {
		p.Client = client
	}
	return &FeedSource{url: url, parser: p, dateLayout: "02.01.2006"}
}

func (s *FeedSource) Events(ctx context.Context) ([]models.Event, error) {
	feed, err := s.parser.ParseURLWithContext(s.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed %s: %w", s.url, err)
	}
	return s.fromFeed(feed), nil
}

func (s *FeedSource) fromFeed(feed *gofeed.Feed) []models.Event {
	out := make([]models.Event, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil || strings.TrimSpace(item.Title) == "" {
			continue
		}
		ev := models.Event{Title: item.Title, URL: item.Link}
		switch {
		case item.PublishedParsed != nil:
			ev.Date = item.PublishedParsed.Format(s.dateLayout)
		case item.UpdatedParsed != nil:
			ev.Date = item.UpdatedParsed.Format(s.dateLayout)
		default:
			ev.Date = item.Published
		}
		if item.Image != nil {
			ev.Image = item.Image.URL
		} else {
			for _, enc := range item.Enclosures {
				if strings.HasPrefix(enc.Type, "image/") {
					ev.Image = enc.URL
					break
				}
			}
		}
		out = append(out, ev)
	}
	return out
}
