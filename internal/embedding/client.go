package embedding

import (
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Client wraps the OpenAI-compatible client used for embedding generation.
type Client struct {
	client *openai.Client
}

// NewClient creates a client for the embedding API. The API key is read from
// the OPENAI_API_KEY environment variable; baseURL may point the client at an
// Azure or other OpenAI-compatible endpoint and is ignored when empty.
func NewClient(baseURL string) (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)
	return &Client{client: &client}, nil
}

// Client returns the underlying OpenAI client so chat completion can share
// the same connection and credentials.
func (c *Client) Client() *openai.Client {
	return c.client
}
