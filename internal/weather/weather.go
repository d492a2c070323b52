// Package weather looks up current conditions from the OpenWeatherMap API.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dietfurt/kolpingbot/internal/models"
)

// DefaultBaseURL is the current-weather endpoint.
const DefaultBaseURL = "https://api.openweathermap.org/data/2.5/weather"

// ErrNoConditions is returned when the response carries no weather description.
var ErrNoConditions = errors.New("weather response without conditions")

// Source returns the current conditions for a city.
type Source interface {
	Current(ctx context.Context, city string) (models.Weather, error)
}

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client queries OpenWeatherMap in metric units with German descriptions.
type Client struct {
	baseURL string
	apiKey  string
	lang    string
	http    Doer
}

// Compile-time check that Client implements Source.
var _ Source = (*Client)(nil)

// NewClient creates a Client. Empty baseURL selects DefaultBaseURL; a nil http client
// uses a 10s timeout.
func NewClient(apiKey, baseURL string, client Doer) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, apiKey: apiKey, lang: "de", http: client}
}

type currentResponse struct {
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		TempMin float64 `json:"temp_min"`
		TempMax float64 `json:"temp_max"`
	} `json:"main"`
	Message string `json:"message"`
}

func (c *Client) Current(ctx context.Context, city string) (models.Weather, error) {
	q := url.Values{}
	q.Set("q", city)
	q.Set("units", "metric")
	q.Set("lang", c.lang)
	q.Set("appid", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return models.Weather{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return models.Weather{}, fmt.Errorf("weather request failed: %w", err)
	}
	defer resp.Body.Close()

	var body currentResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK {
		return models.Weather{}, fmt.Errorf("weather API returned %d: %s", resp.StatusCode, strings.TrimSpace(body.Message))
	}
	if decodeErr != nil {
		return models.Weather{}, fmt.Errorf("failed to decode weather: %w", decodeErr)
	}
	if len(body.Weather) == 0 {
		return models.Weather{}, ErrNoConditions
	}
	w := models.Weather{
		Description: body.Weather[0].Description,
		TempMin:     body.Main.TempMin,
		TempMax:     body.Main.TempMax,
	}
	slog.Debug("weather.Current", "city", city, "description", w.Description)
	return w, nil
}
