/*
Package vision implements the product.VisionClient port against the
Anthropic Messages API.

PURPOSE:
  One generation is one POST to /v1/messages: the product photos as
  base64 image blocks plus the prompt, answered by a single JSON object
  matching product.Sheet. The call is opaque and fallible from the
  workflow's point of view; every failure mode here surfaces as a plain
  error so the workflow can refund the consumed credit.

CONSTRUCTION:
  The client is built explicitly and injected (no package-level
  singleton); tests substitute a stub VisionClient instead of this type.
*/
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fichflow/fichflow/product"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
	maxTokens      = 2000
)

// Config configures the Anthropic client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string        // defaults to the public API
	Timeout time.Duration // defaults to 60s
}

// Client calls the Anthropic Messages API.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ product.VisionClient = (*Client)(nil)

// NewClient creates an Anthropic vision client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// GenerateSheet sends the photos and prompt to the model and decodes the
// JSON sheet from its reply.
func (c *Client) GenerateSheet(ctx context.Context, req product.SheetRequest) (product.Sheet, error) {
	content := make([]contentBlock, 0, len(req.Photos)+1)
	for _, photo := range req.Photos {
		content = append(content, contentBlock{
			Type: "image",
			Source: &imageSource{
				Type:      "base64",
				MediaType: photo.MediaType,
				Data:      base64.StdEncoding.EncodeToString(photo.Data),
			},
		})
	}
	content = append(content, contentBlock{Type: "text", Text: product.UserPrompt(req)})

	body, err := json.Marshal(messagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: maxTokens,
		System:    product.SystemPrompt,
		Messages:  []message{{Role: "user", Content: content}},
	})
	if err != nil {
		return product.Sheet{}, fmt.Errorf("failed to encode vision request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return product.Sheet{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.cfg.APIKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return product.Sheet{}, fmt.Errorf("vision call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return product.Sheet{}, fmt.Errorf("failed to read vision response: %w", err)
	}

	var decoded messagesResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return product.Sheet{}, fmt.Errorf("invalid vision response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if decoded.Error != nil {
			return product.Sheet{}, fmt.Errorf("vision api error %d: %s", resp.StatusCode, decoded.Error.Message)
		}
		return product.Sheet{}, fmt.Errorf("vision api error %d", resp.StatusCode)
	}

	text := ""
	for _, block := range decoded.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return product.Sheet{}, fmt.Errorf("vision response contained no text block")
	}

	return ParseSheet(text)
}

// ParseSheet decodes the model's reply into a Sheet, tolerating markdown
// fences around the JSON.
func ParseSheet(text string) (product.Sheet, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	var sheet product.Sheet
	if err := json.Unmarshal([]byte(text), &sheet); err != nil {
		return product.Sheet{}, fmt.Errorf("failed to parse generated sheet: %w", err)
	}
	if sheet.Title == "" || sheet.Description == "" {
		return product.Sheet{}, fmt.Errorf("generated sheet is missing title or description")
	}
	return sheet, nil
}
