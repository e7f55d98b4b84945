package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultSerpBaseURL = "https://serpapi.com/search"

// SerpClient is a paced SerpApi search client shared by the search-backed adapters.
type SerpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewSerpClient creates a client. requestsPerSecond <= 0 disables pacing.
func NewSerpClient(baseURL, apiKey string, requestsPerSecond float64, timeout time.Duration) *SerpClient {
	if baseURL == "" {
		baseURL = defaultSerpBaseURL
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &SerpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// CheckCredentials reports ErrMissingCredential when no API key is set.
func (c *SerpClient) CheckCredentials() error {
	if strings.TrimSpace(c.apiKey) == "" {
		return fmt.Errorf("%w: SerpApi API key not configured", ErrMissingCredential)
	}
	return nil
}

// Search runs one SerpApi query and decodes the JSON response into out.
func (c *SerpClient) Search(ctx context.Context, params url.Values, out any) error {
	if err := c.CheckCredentials(); err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("api_key", c.apiKey)
	q.Set("output", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("serpapi %s: %w", params.Get("engine"), redactURL(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading serpapi response: %w", err)
	}

	var envelope struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &envelope)
	if resp.StatusCode != http.StatusOK {
		if envelope.Error != "" {
			return fmt.Errorf("serpapi HTTP %d: %s", resp.StatusCode, envelope.Error)
		}
		return fmt.Errorf("serpapi HTTP %d", resp.StatusCode)
	}
	// "Google hasn't returned any results" is an empty page, not a failure.
	if envelope.Error != "" && !strings.Contains(strings.ToLower(envelope.Error), "hasn't returned any results") {
		return fmt.Errorf("serpapi: %s", envelope.Error)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding serpapi response: %w", err)
	}
	return nil
}

// organicResult is one Google web result as returned by SerpApi.
type organicResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Date     string `json:"date"`
}

type organicResponse struct {
	OrganicResults []organicResult `json:"organic_results"`
}

// searchWeb runs a Google web search, limited to the past month when recent is set.
func (c *SerpClient) searchWeb(ctx context.Context, query string, num int, recent bool) ([]organicResult, error) {
	params := url.Values{
		"engine": {"google"},
		"q":      {query},
		"num":    {fmt.Sprintf("%d", num)},
	}
	if recent {
		params.Set("tbs", "qdr:m")
	}
	var resp organicResponse
	if err := c.Search(ctx, params, &resp); err != nil {
		return nil, err
	}
	return resp.OrganicResults, nil
}

// redactURL drops the request URL from transport errors; it carries the
// credential as a query parameter.
func redactURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}
