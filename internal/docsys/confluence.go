package docsys

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ConfluenceConfig holds configuration for a Confluence connection.
type ConfluenceConfig struct {
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	APIToken string `json:"api_token"`
}

// ConfluenceAdapter reads and writes Confluence pages through the REST
// API, using page version numbers as revisions.
type ConfluenceAdapter struct {
	config     ConfluenceConfig
	httpClient *http.Client
}

// NewConfluenceAdapter creates a Confluence-backed document adapter.
func NewConfluenceAdapter(config ConfluenceConfig) *ConfluenceAdapter {
	return &ConfluenceAdapter{
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type confluencePage struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Version struct {
		Number int `json:"number"`
	} `json:"version"`
}

// Fetch retrieves a page's storage-format body and version.
func (c *ConfluenceAdapter) Fetch(ctx context.Context, docID string) (*Document, error) {
	endpoint := fmt.Sprintf("%s/rest/api/content/%s?expand=body.storage,version",
		strings.TrimRight(c.config.BaseURL, "/"), docID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.config.Username, c.config.APIToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrDocNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("confluence API error (%d): %s", resp.StatusCode, string(body))
	}

	var page confluencePage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding page: %w", err)
	}

	return &Document{
		DocID:    page.ID,
		Content:  page.Body.Storage.Value,
		Revision: strconv.Itoa(page.Version.Number),
	}, nil
}

// Write updates the page body. The request pins the next version number
// derived from baseRevision; Confluence rejects it with 409 when the
// page moved on, which surfaces as ErrRevisionConflict.
func (c *ConfluenceAdapter) Write(ctx context.Context, docID, newContent, baseRevision string) error {
	current, err := c.Fetch(ctx, docID)
	if err != nil {
		return err
	}
	if current.Revision != baseRevision {
		return ErrRevisionConflict
	}

	baseVersion, err := strconv.Atoi(baseRevision)
	if err != nil {
		return fmt.Errorf("parsing base revision %q: %w", baseRevision, err)
	}

	payload := map[string]any{
		"id":      docID,
		"type":    "page",
		"version": map[string]any{"number": baseVersion + 1},
		"body": map[string]any{
			"storage": map[string]any{
				"value":          newContent,
				"representation": "storage",
			},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling page update: %w", err)
	}

	endpoint := fmt.Sprintf("%s/rest/api/content/%s",
		strings.TrimRight(c.config.BaseURL, "/"), docID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.config.Username, c.config.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("writing page: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusConflict:
		return ErrRevisionConflict
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("confluence API error (%d): %s", resp.StatusCode, string(body))
	}
}
