package usecase

import (
	"context"
	"log/slog"
	"time"

	"advisor-proxy/internal/domain"
)

const (
	DefaultModel        = "deepseek/deepseek-r1-0528-qwen3-8b"
	DefaultChatbotModel = "qwen/qwen3-4b-fp8"
)

// KeySource resolves the upstream API key from the request's Authorization
// header or from server configuration. An empty key means none is available.
type KeySource interface {
	Resolve(ctx context.Context, authorization string) (string, error)
}

type LLMClient interface {
	Complete(ctx context.Context, apiKey string, req domain.CompletionRequest) (domain.Completion, error)
}

type CompletionObserver interface {
	ObserveCompletion(model, outcome string, duration time.Duration, usage domain.Usage)
}

// Models selects the default model per request purpose.
type Models struct {
	Default string
	Chatbot string
	Profile string
}

type options struct {
	logger       *slog.Logger
	observer     CompletionObserver
	models       Models
	historyLimit int
	store        AnalysisStore
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithObserver(obs CompletionObserver) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithModels overrides the default models. Empty fields keep their defaults.
func WithModels(m Models) Option {
	return func(o *options) {
		if m.Default != "" {
			o.models.Default = m.Default
		}
		if m.Chatbot != "" {
			o.models.Chatbot = m.Chatbot
		}
		if m.Profile != "" {
			o.models.Profile = m.Profile
		}
	}
}

// WithHistoryLimit forwards only the last n messages of a chat. Zero disables
// the cap.
func WithHistoryLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.historyLimit = n
		}
	}
}

func WithAnalysisStore(s AnalysisStore) Option {
	return func(o *options) {
		o.store = s
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		models: Models{
			Default: DefaultModel,
			Chatbot: DefaultChatbotModel,
			Profile: DefaultModel,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) observe(model, outcome string, start time.Time, usage domain.Usage) {
	if o.observer == nil {
		return
	}
	o.observer.ObserveCompletion(model, outcome, time.Since(start), usage)
}
