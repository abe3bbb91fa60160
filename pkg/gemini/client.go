// Package gemini implements client.VisionClient on top of the Gemini API.
package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/menta2k/breed-camera/pkg/client"
)

// DefaultTimeout applies when the caller's context has no deadline
const DefaultTimeout = 120 * time.Second

const maxAttempts = 3

// ErrNoAPIKey is returned when no key was configured
var ErrNoAPIKey = errors.New("gemini: api key is empty")

// Client wraps a genai client
type Client struct {
	client *genai.Client
}

var _ client.VisionClient = (*Client)(nil)

// NewClient creates a Gemini client. endpoint may be empty to use the
// public API.
func NewClient(ctx context.Context, apiKey, endpoint string) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}

	c, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Client{client: c}, nil
}

// Ping lists one model to check the key and the endpoint
func (c *Client) Ping(ctx context.Context) error {
	it := c.client.ListModels(ctx)
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("gemini list models: %w", err)
	}
	return nil
}

// SimpleQuery sends prompt and a JPEG image and returns the first text part
// of the answer. Transient failures are retried.
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	m := c.client.GenerativeModel(strings.TrimSpace(model))
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0.1),
		ResponseMIMEType: "application/json",
	}

	parts := []genai.Part{genai.Text(prompt)}
	if imgB64 != "" {
		imgBytes, err := base64.StdEncoding.DecodeString(imgB64)
		if err != nil {
			return "", fmt.Errorf("failed to decode base64 image: %w", err)
		}
		parts = append(parts, genai.Blob{MIMEType: http.DetectContentType(imgBytes), Data: imgBytes})
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := m.GenerateContent(ctx, parts...)
		if err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("gemini generate: %w", ctx.Err())
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
			continue
		}
		txt := strings.TrimSpace(firstText(resp))
		if txt == "" {
			return "", client.ErrEmptyResponse
		}
		return txt, nil
	}
	return "", fmt.Errorf("gemini generate: %w", lastErr)
}

// Close releases the underlying connection
func (c *Client) Close() error {
	return c.client.Close()
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
