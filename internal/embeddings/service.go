// Package embeddings supplies the repair pipeline's semantic embedder.
//
// Paraphrase detection compares paragraph windows by cosine similarity of
// their embeddings. The client wraps langchaingo's OpenAI-compatible
// embedder, so it works against OpenAI itself or a local TEI instance;
// without a client the pipeline falls back to lexical overlap.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyguard/internal/logging"
)

// ErrEmptyInput indicates empty or nil input texts.
var ErrEmptyInput = errors.New("empty or nil input texts")

// Config points the client at an OpenAI-compatible embeddings endpoint.
type Config struct {
	// BaseURL of the API, e.g. https://api.openai.com/v1 or a local
	// TEI endpoint.
	BaseURL string

	// Model is the embedding model name.
	Model string

	// APIKey authenticates the endpoint. TEI ignores it; langchaingo
	// still requires a non-empty token.
	APIKey string
}

// Client generates embeddings for paragraph windows. It satisfies the
// repair pipeline's embedder interface.
type Client struct {
	embedder *embeddings.EmbedderImpl
	model    string
	logger   *logging.Logger
}

// New builds an embeddings client. Returns an error when the endpoint or
// model is missing or the underlying client cannot be constructed.
func New(cfg Config, logger *logging.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("embeddings: base URL required")
	}
	if cfg.Model == "" {
		return nil, errors.New("embeddings: model required")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	token := cfg.APIKey
	if token == "" {
		token = "placeholder" // TEI ignores the token but the client requires one
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("embeddings: creating client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("embeddings: wrapping embedder: %w", err)
	}

	return &Client{
		embedder: embedder,
		model:    cfg.Model,
		logger:   logger.Named("embeddings"),
	}, nil
}

// EmbedDocuments returns one vector per input text. All vectors share the
// model's dimensionality.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	vectors, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		c.logger.Warn(ctx, "embedding request failed",
			zap.String("model", c.model),
			zap.Int("texts", len(texts)),
			zap.Error(err))
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	return vectors, nil
}
