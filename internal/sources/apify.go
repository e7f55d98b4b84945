package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultApifyBaseURL = "https://api.apify.com/v2"

// ApifyClient runs Apify actors synchronously and returns their dataset items.
type ApifyClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewApifyClient creates a client for the Apify actor API. token may be empty;
// CheckCredentials reports it.
func NewApifyClient(baseURL, token string, timeout time.Duration) *ApifyClient {
	if baseURL == "" {
		baseURL = defaultApifyBaseURL
	}
	return &ApifyClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// CheckCredentials reports ErrMissingCredential when no token is set.
func (c *ApifyClient) CheckCredentials() error {
	if strings.TrimSpace(c.token) == "" {
		return fmt.Errorf("%w: Apify API token not configured", ErrMissingCredential)
	}
	return nil
}

// RunActor starts actor (e.g. "apify/instagram-scraper") with input and
// decodes the resulting dataset items into out.
func (c *ApifyClient) RunActor(ctx context.Context, actor string, input any, out any) error {
	if err := c.CheckCredentials(); err != nil {
		return err
	}
	body, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("encoding actor input: %w", err)
	}

	actorPath := strings.ReplaceAll(actor, "/", "~")
	endpoint := fmt.Sprintf("%s/acts/%s/run-sync-get-dataset-items?%s",
		c.baseURL, url.PathEscape(actorPath), url.Values{"token": {c.token}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("apify %s: %w", actor, redactURL(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("apify %s HTTP %d: %s", actor, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding apify %s dataset: %w", actor, err)
	}
	return nil
}
