// Package messenger is a client for the Facebook Messenger Platform: the Send API,
// user profile lookups and webhook callback parsing.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dietfurt/kolpingbot/internal/models"
)

// Defaults for the Graph API client.
const (
	DefaultGraphURL      = "https://graph.facebook.com/v2.6"
	DefaultTimeout       = 10 * time.Second
	DefaultMoreInfoLabel = "Mehr Infos"
	profileFields        = "first_name,last_name,gender"
)

// HTTPDoer executes HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Opts holds configuration for the Graph API client.
type Opts struct {
	PageToken     string
	GraphURL      string
	MoreInfoLabel string
	HTTPClient    HTTPDoer
}

// Option configures the Graph API client.
type Option func(*Opts)

func WithPageToken(token string) Option {
	return func(o *Opts) { o.PageToken = token }
}

// WithGraphURL overrides the Graph API base URL, e.g. for a newer API version or tests.
func WithGraphURL(u string) Option {
	return func(o *Opts) { o.GraphURL = u }
}

// WithMoreInfoLabel sets the caption of the link button on list entries.
func WithMoreInfoLabel(label string) Option {
	return func(o *Opts) { o.MoreInfoLabel = label }
}

func WithHTTPClient(c HTTPDoer) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// APIError is an error body returned by the Graph API.
type APIError struct {
	Status    int    `json:"-"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api %d: %s (type=%s code=%d trace=%s)", e.Status, e.Message, e.Type, e.Code, e.FBTraceID)
}

// Client talks to the Graph API on behalf of one page.
type Client struct {
	http          HTTPDoer
	baseURL       string
	pageToken     string
	moreInfoLabel string
}

// NewClient creates a Graph API client. The page token falls back to MESSENGER_PAGE_TOKEN.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PageToken == "" {
		cfg.PageToken = os.Getenv("MESSENGER_PAGE_TOKEN")
	}
	if cfg.GraphURL == "" {
		cfg.GraphURL = DefaultGraphURL
	}
	if cfg.MoreInfoLabel == "" {
		cfg.MoreInfoLabel = DefaultMoreInfoLabel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	slog.Debug("Messenger client config loaded", "PageToken_set", cfg.PageToken != "", "GraphURL", cfg.GraphURL)
	if cfg.PageToken == "" {
		return nil, fmt.Errorf("page access token must be provided")
	}
	return &Client{
		http:          cfg.HTTPClient,
		baseURL:       strings.TrimRight(cfg.GraphURL, "/"),
		pageToken:     cfg.PageToken,
		moreInfoLabel: cfg.MoreInfoLabel,
	}, nil
}

// SendMessage renders msg and posts it to the Send API. Chunks are sent in order and
// sending stops at the first failure; the result is that of the last accepted chunk.
func (c *Client) SendMessage(ctx context.Context, recipientID string, msg models.OutboundMessage) (models.SendResult, error) {
	reqs, err := Render(recipientID, msg, c.moreInfoLabel)
	if err != nil {
		return models.SendResult{}, err
	}
	var last models.SendResult
	for i, req := range reqs {
		resp, err := c.send(ctx, req)
		if err != nil {
			slog.Error("Messenger SendMessage failed", "to", recipientID, "kind", msg.Kind, "chunk", i, "error", err)
			return last, fmt.Errorf("failed to send message to %s: %w", recipientID, err)
		}
		last = models.SendResult{RecipientID: resp.RecipientID, MessageID: resp.MessageID}
		slog.Debug("Messenger message sent", "to", recipientID, "kind", msg.Kind, "message_id", resp.MessageID)
	}
	return last, nil
}

// SendTypingIndicator switches the typing bubble on or off.
func (c *Client) SendTypingIndicator(ctx context.Context, recipientID string, on bool) error {
	if _, err := c.send(ctx, TypingAction(recipientID, on)); err != nil {
		return fmt.Errorf("failed to send typing indicator to %s: %w", recipientID, err)
	}
	return nil
}

// GetProfile fetches the public profile of a user.
func (c *Client) GetProfile(ctx context.Context, psid string) (models.Profile, error) {
	q := url.Values{}
	q.Set("fields", profileFields)
	q.Set("access_token", c.pageToken)
	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, url.PathEscape(psid), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.Profile{}, err
	}
	var p Profile
	if err := c.do(req, &p); err != nil {
		return models.Profile{}, fmt.Errorf("failed to get profile of %s: %w", psid, err)
	}
	return models.Profile{FirstName: p.FirstName, LastName: p.LastName, Gender: p.Gender}, nil
}

func (c *Client) send(ctx context.Context, body SendRequest) (SendResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return SendResponse{}, err
	}
	endpoint := c.baseURL + "/me/messages?access_token=" + url.QueryEscape(c.pageToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return SendResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var out SendResponse
	if err := c.do(req, &out); err != nil {
		return SendResponse{}, err
	}
	return out, nil
}

// do executes req and decodes a 200 body into out, or the Graph error body into an *APIError.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read graph response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var wrapped struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(body, &wrapped) == nil && wrapped.Error != nil {
			wrapped.Error.Status = resp.StatusCode
			return wrapped.Error
		}
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode graph response: %w", err)
	}
	return nil
}

// IsAPIError reports whether err carries a Graph API error body.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
