package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"
)

const (
	// DefaultMaxTokens bounds generation when a request leaves MaxTokens unset.
	DefaultMaxTokens = 1024
	// DefaultAttemptTimeout bounds a single provider call.
	DefaultAttemptTimeout = 30 * time.Second
)

// Request is one GenerateContent call.
type Request struct {
	Prompt    string
	MaxTokens int
	// Providers overrides the client's default order for this call only.
	Providers []string
	// Lenient turns total failure into an empty result instead of an error.
	Lenient bool
}

// Client drives the provider fallback chain. It holds no per-call state and
// is safe for concurrent use.
type Client struct {
	order          []string
	factories      map[string]Factory
	overrides      map[string]ProviderConfig
	lookup         LookupFunc
	httpClient     *http.Client
	attemptTimeout time.Duration
	budget         time.Duration
	logger         *slog.Logger
}

type Option func(*Client)

// WithOrder sets the default provider order, ahead of AI_PROVIDER_PRIORITY.
func WithOrder(names ...string) Option {
	return func(c *Client) { c.order = NormalizeOrder(names) }
}

// WithOverrides supplies explicit provider settings keyed by provider name.
// Non-empty fields win over the environment.
func WithOverrides(overrides map[string]ProviderConfig) Option {
	return func(c *Client) {
		c.overrides = make(map[string]ProviderConfig, len(overrides))
		for name, cfg := range overrides {
			c.overrides[normalizeName(name)] = NewProviderConfig(normalizeName(name), cfg.Endpoint, cfg.Credential, cfg.params)
		}
	}
}

// WithLookup replaces os.LookupEnv as the settings source.
func WithLookup(lookup LookupFunc) Option {
	return func(c *Client) {
		if lookup != nil {
			c.lookup = lookup
		}
	}
}

// WithFactory registers or replaces the adapter factory for name.
func WithFactory(name string, factory Factory) Option {
	return func(c *Client) { c.factories[normalizeName(name)] = factory }
}

// WithHTTPClient shares client across all adapters.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithAttemptTimeout sets the per-provider timeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.attemptTimeout = d
		}
	}
}

// WithBudget caps the wall-clock time of a whole fallback chain. Zero keeps
// the chain unbounded, so the worst case is the sum of the attempt timeouts.
func WithBudget(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.budget = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a Client. The default order is resolved once here.
func New(opts ...Option) *Client {
	c := &Client{
		factories:      DefaultFactories(),
		lookup:         os.LookupEnv,
		httpClient:     &http.Client{},
		attemptTimeout: DefaultAttemptTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.order = ResolveOrder(c.order, c.lookup)
	return c
}

// Order returns a copy of the default provider order.
func (c *Client) Order() []string {
	return append([]string(nil), c.order...)
}

// GenerateContent tries each provider in order and returns the normalized
// reply of the first one that answers. Providers after it are not called.
// When every provider is skipped or fails, strict calls get an
// *AllProvidersFailedError and lenient calls get the zero Result.
func (c *Client) GenerateContent(ctx context.Context, req Request) (Result, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Result{}, ErrEmptyPrompt
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	order := c.order
	if len(req.Providers) > 0 {
		if explicit := NormalizeOrder(req.Providers); len(explicit) > 0 {
			order = explicit
		}
	}
	if c.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.budget)
		defer cancel()
	}

	attempts := make([]Attempt, 0, len(order))
	for i, name := range order {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Provider: name, Err: fmt.Errorf("chain aborted: %w", err)})
			continue
		}

		start := time.Now()
		reply, err := c.attempt(ctx, name, prompt, maxTokens)
		if err != nil {
			attempts = append(attempts, Attempt{Provider: name, Err: err})
			if errors.Is(err, ErrNotConfigured) {
				c.logger.DebugContext(ctx, "ai provider skipped", "provider", name, "reason", err.Error())
			} else {
				c.logger.WarnContext(ctx, "ai provider failed",
					"provider", name,
					"attempt", i+1,
					"duration", time.Since(start),
					"error", err,
				)
			}
			continue
		}

		result := Normalize(reply)
		c.logger.InfoContext(ctx, "ai provider succeeded",
			"provider", name,
			"attempt", i+1,
			"duration", time.Since(start),
			"structured", result.Structured(),
		)
		return result, nil
	}

	failure := &AllProvidersFailedError{Attempts: attempts}
	c.logger.ErrorContext(ctx, "ai providers exhausted", "lenient", req.Lenient, "error", failure.Error())
	if req.Lenient {
		return Result{}, nil
	}
	return Result{}, failure
}

// attempt makes one call against one provider with a fresh configuration
// snapshot, so rotated credentials are picked up without a restart.
func (c *Client) attempt(ctx context.Context, name, prompt string, maxTokens int) (Reply, error) {
	factory, ok := c.factories[name]
	if !ok {
		return Reply{}, ErrUnknownProvider
	}
	cfg := ResolveProvider(name, c.overrides[name], c.lookup)
	provider, err := factory(cfg, c.httpClient)
	if err != nil {
		return Reply{}, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	reply, err := provider.Complete(attemptCtx, prompt, maxTokens)
	if err != nil {
		return Reply{}, err
	}
	if !reply.Structured() && strings.TrimSpace(reply.Text()) == "" {
		return Reply{}, &ResponseError{Reason: "empty text"}
	}
	return reply, nil
}

// ProviderStatus reports whether a provider in the default order has the
// settings it needs. It never carries secrets.
type ProviderStatus struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
	Reason     string `json:"reason,omitempty"`
}

// Status checks every provider in the default order without network calls.
func (c *Client) Status() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(c.order))
	for _, name := range c.order {
		status := ProviderStatus{Name: name}
		factory, ok := c.factories[name]
		if !ok {
			status.Reason = ErrUnknownProvider.Error()
			out = append(out, status)
			continue
		}
		if _, err := factory(ResolveProvider(name, c.overrides[name], c.lookup), c.httpClient); err != nil {
			status.Reason = err.Error()
		} else {
			status.Configured = true
		}
		out = append(out, status)
	}
	return out
}

// Providers lists the registered provider names.
func (c *Client) Providers() []string {
	return slices.Sorted(maps.Keys(c.factories))
}
