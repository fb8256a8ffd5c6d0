package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dmitrymomot/verdict/pkg/logger"
)

// Classifier decides whether content is AI-generated.
type Classifier interface {
	Classify(ctx context.Context, content Content) (Verdict, error)
}

// Config configures the OpenAI-compatible chat completions client.
// BaseURL is the API root; the client appends /chat/completions.
type Config struct {
	APIKey       string        `env:"OPENAI_API_KEY"`
	Model        string        `env:"OPENAI_MODEL" envDefault:"gpt-4o"`
	BaseURL      string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	Timeout      time.Duration `env:"OPENAI_TIMEOUT" envDefault:"60s"`
	MaxTokens    int           `env:"OPENAI_MAX_TOKENS" envDefault:"1000"`
	Temperature  float32       `env:"OPENAI_TEMPERATURE" envDefault:"0.1"`
	ParseRetries int           `env:"OPENAI_PARSE_RETRIES" envDefault:"2"`
}

// OpenAIClient classifies content with an OpenAI-compatible chat model.
type OpenAIClient struct {
	cfg        Config
	httpClient *http.Client
	api        *openai.Client
	log        *slog.Logger
}

var _ Classifier = (*OpenAIClient)(nil)

// Option configures an OpenAIClient.
type Option func(*OpenAIClient)

func WithHTTPClient(c *http.Client) Option {
	return func(o *OpenAIClient) {
		if c != nil {
			o.httpClient = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *OpenAIClient) {
		if l != nil {
			o.log = l
		}
	}
}

func NewOpenAIClient(cfg Config, opts ...Option) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	c := &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	apiCfg.HTTPClient = c.httpClient
	c.api = openai.NewClientWithConfig(apiCfg)
	return c
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Classify sends content to the model and parses its verdict. A malformed
// answer is re-requested up to ParseRetries times.
func (c *OpenAIClient) Classify(ctx context.Context, content Content) (Verdict, error) {
	if err := content.Validate(); err != nil {
		return Verdict{}, err
	}
	if c.cfg.APIKey == "" {
		return Verdict{}, ErrMissingAPIKey
	}

	answer, err := c.chat(ctx, buildMessages(content), c.cfg.MaxTokens)
	if err != nil {
		return Verdict{}, err
	}
	v, perr := ParseVerdict(answer)
	for attempt := 1; perr != nil && attempt <= c.cfg.ParseRetries; attempt++ {
		c.log.WarnContext(ctx, "unparseable verdict, asking again",
			logger.Component("classifier"),
			logger.Attempt(attempt),
			logger.Error(perr),
		)
		if answer, err = c.chat(ctx, repairMessages(answer), 500); err != nil {
			return Verdict{}, err
		}
		v, perr = ParseVerdict(answer)
	}
	if perr != nil {
		return Verdict{}, perr
	}
	return v, nil
}

func (c *OpenAIClient) chat(ctx context.Context, messages []openai.ChatCompletionMessage, maxTokens int) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: status %d: %s", ErrProviderFailure, apiErr.HTTPStatusCode, apiErr.Message)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return "", fmt.Errorf("%w: status %d: %w", ErrProviderFailure, reqErr.HTTPStatusCode, reqErr.Err)
		}
		return "", errors.Join(ErrProviderFailure, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrProviderFailure)
	}
	return resp.Choices[0].Message.Content, nil
}
