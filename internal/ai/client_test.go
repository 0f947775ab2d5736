package ai

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name  string
	calls *atomic.Int32
	fn    func(ctx context.Context, prompt string, maxTokens int) (Reply, error)
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Complete(ctx context.Context, prompt string, maxTokens int) (Reply, error) {
	p.calls.Add(1)
	return p.fn(ctx, prompt, maxTokens)
}

func stubFactory(name string, calls *atomic.Int32, fn func(ctx context.Context, prompt string, maxTokens int) (Reply, error)) Factory {
	return func(ProviderConfig, *http.Client) (Provider, error) {
		return &stubProvider{name: name, calls: calls, fn: fn}, nil
	}
}

func replyWith(reply Reply) func(context.Context, string, int) (Reply, error) {
	return func(context.Context, string, int) (Reply, error) { return reply, nil }
}

func failWith(err error) func(context.Context, string, int) (Reply, error) {
	return func(context.Context, string, int) (Reply, error) { return Reply{}, err }
}

func unconfigured(ProviderConfig, *http.Client) (Provider, error) {
	return nil, notConfigured("credential")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func noEnv(string) (string, bool) { return "", false }

func TestGenerateContent_StopsAtFirstSuccess(t *testing.T) {
	t.Parallel()
	var first, second, third atomic.Int32
	client := New(
		WithLookup(noEnv),
		WithLogger(quietLogger()),
		WithOrder("alpha", "beta", "gamma"),
		WithFactory("alpha", stubFactory("alpha", &first, failWith(&HTTPError{StatusCode: 503, Body: "busy"}))),
		WithFactory("beta", stubFactory("beta", &second, replyWith(TextReply("from beta")))),
		WithFactory("gamma", stubFactory("gamma", &third, replyWith(TextReply("from gamma")))),
	)

	res, err := client.GenerateContent(context.Background(), Request{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "from beta", res.Text())
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(1), second.Load())
	assert.Equal(t, int32(0), third.Load())
}

func TestGenerateContent_AllFailStrict(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	client := New(
		WithLookup(noEnv),
		WithLogger(quietLogger()),
		WithOrder("alpha", "beta", "gamma"),
		WithFactory("alpha", stubFactory("alpha", &calls, failWith(&HTTPError{StatusCode: 500, Body: "boom"}))),
		WithFactory("beta", stubFactory("beta", &calls, failWith(&ResponseError{Reason: "no choices"}))),
		WithFactory("gamma", unconfigured),
	)

	res, err := client.GenerateContent(context.Background(), Request{Prompt: "hello"})
	require.Error(t, err)
	assert.True(t, res.IsEmpty())

	var failed *AllProvidersFailedError
	require.ErrorAs(t, err, &failed)
	require.Len(t, failed.Attempts, 3)
	assert.True(t, failed.Attempts[2].Skipped())
	assert.False(t, failed.Attempts[0].Skipped())

	msg := err.Error()
	for _, name := range []string{"alpha", "beta", "gamma"} {
		assert.Equal(t, 1, strings.Count(msg, name), "provider %s in %q", name, msg)
	}
	assert.ErrorIs(t, err, ErrNotConfigured)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 500, httpErr.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateContent_AllFailLenient(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	client := New(
		WithLookup(noEnv),
		WithLogger(quietLogger()),
		WithOrder("alpha", "beta"),
		WithFactory("alpha", stubFactory("alpha", &calls, failWith(errors.New("boom")))),
		WithFactory("beta", stubFactory("beta", &calls, failWith(errors.New("boom")))),
	)

	res, err := client.GenerateContent(context.Background(), Request{Prompt: "hello", Lenient: true})
	require.NoError(t, err)
	assert.True(t, res.IsEmpty())
	assert.Equal(t, "", res.String())
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateContent_SkipsUnconfigured(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	client := New(
		WithLookup(noEnv),
		WithLogger(quietLogger()),
		WithOrder("alpha", "beta"),
		WithFactory("alpha", unconfigured),
		WithFactory("beta", stubFactory("beta", &calls, replyWith(TextReply(`{"answer": 42}`)))),
	)

	res, err := client.GenerateContent(context.Background(), Request{Prompt: "hello"})
	require.NoError(t, err)
	require.True(t, res.Structured())
	assert.Equal(t, map[string]any{"answer": float64(42)}, res.Value())
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateContent_Normalization(t *testing.T) {
	t.Parallel()
	preParsed := map[string]any{"flashcards": []any{map[string]any{"front": "{", "back": "]"}}}
	tests := []struct {
		name  string
		reply Reply
		want  Result
	}{
		{
			name:  "json round trip",
			reply: TextReply(`{"mcq_questions": [], "short_questions": []}`),
			want:  ValueResult(map[string]any{"mcq_questions": []any{}, "short_questions": []any{}}),
		},
		{
			name:  "embedded json",
			reply: TextReply("Here is your answer:\n{\"a\": 1, \"b\": [2,3]}\nThanks!"),
			want:  ValueResult(map[string]any{"a": float64(1), "b": []any{float64(2), float64(3)}}),
		},
		{
			name:  "plain text",
			reply: TextReply("The capital of France is Paris.  "),
			want:  TextResult("The capital of France is Paris."),
		},
		{
			name:  "pre-parsed",
			reply: StructuredReply(preParsed),
			want:  ValueResult(preParsed),
		},
		{
			name:  "null is not empty",
			reply: TextReply("null"),
			want:  ValueResult(nil),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int32
			client := New(
				WithLookup(noEnv),
				WithLogger(quietLogger()),
				WithOrder("alpha"),
				WithFactory("alpha", stubFactory("alpha", &calls, replyWith(tt.reply))),
			)
			got, err := client.GenerateContent(context.Background(), Request{Prompt: "p"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateContent_EmptyTextIsFailure(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	client := New(
		WithLookup(noEnv),
		WithLogger(quietLogger()),
		WithOrder("alpha", "beta"),
		WithFactory("alpha", stubFactory("alpha", &calls, replyWith(TextReply("   \n")))),
		WithFactory("beta", stubFactory("beta", &calls, replyWith(TextReply("ok")))),
	)
	res, err := client.GenerateContent(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text())
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateContent_Idempotent(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	client := New(
		WithLookup(noEnv),
		WithLogger(quietLogger()),
		WithOrder("alpha", "beta"),
		WithFactory("alpha", stubFactory("alpha", &calls, failWith(errors.New("down")))),
		WithFactory("beta", stubFactory("beta", &calls, replyWith(TextReply(`[1, 2]`)))),
	)
	req := Request{Prompt: "same prompt", MaxTokens: 64}
	first, err := client.GenerateContent(context.Background(), req)
	require.NoError(t, err)
	second, err := client.GenerateContent(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	failing := New(
		WithLookup(noEnv),
		WithLogger(quietLogger()),
		WithOrder("alpha"),
		WithFactory("alpha", stubFactory("alpha", &calls, failWith(errors.New("down")))),
	)
	var a, b *AllProvidersFailedError
	_, err = failing.GenerateContent(context.Background(), req)
	require.ErrorAs(t, err, &a)
	_, err = failing.GenerateContent(context.Background(), req)
	require.ErrorAs(t, err, &b)
	assert.Len(t, a.Attempts, 1)
	assert.Len(t, b.Attempts, 1)
	assert.Equal(t, a.Error(), b.Error())
}

func TestGenerateContent_PerCallOrder(t *testing.T) {
	t.Parallel()
	var alpha, beta atomic.Int32
	client := New(
		WithLookup(noEnv),
		WithLogger(quietLogger()),
		WithOrder("alpha", "beta"),
		WithFactory("alpha", stubFactory("alpha", &alpha, replyWith(TextReply("a")))),
		WithFactory("beta", stubFactory("beta", &beta, replyWith(TextReply("b")))),
	)
	res, err := client.GenerateContent(context.Background(), Request{Prompt: "p", Providers: []string{" BETA "}})
	require.NoError(t, err)
	assert.Equal(t, "b", res.Text())
	assert.Equal(t, int32(0), alpha.Load())
	assert.Equal(t, []string{"alpha", "beta"}, client.Order())
}

func TestGenerateContent_UnknownProviderRecorded(t *testing.T) {
	t.Parallel()
	client := New(WithLookup(noEnv), WithLogger(quietLogger()), WithOrder("nope"))
	_, err := client.GenerateContent(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestGenerateContent_MaxTokensDefault(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	var seen atomic.Int64
	client := New(
		WithLookup(noEnv),
		WithLogger(quietLogger()),
		WithOrder("alpha"),
		WithFactory("alpha", stubFactory("alpha", &calls, func(_ context.Context, _ string, maxTokens int) (Reply, error) {
			seen.Store(int64(maxTokens))
			return TextReply("ok"), nil
		})),
	)
	_, err := client.GenerateContent(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultMaxTokens), seen.Load())
}

func TestGenerateContent_EmptyPrompt(t *testing.T) {
	t.Parallel()
	client := New(WithLookup(noEnv), WithLogger(quietLogger()))
	_, err := client.GenerateContent(context.Background(), Request{Prompt: "  "})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func blockUntilDone(ctx context.Context, _ string, _ int) (Reply, error) {
	<-ctx.Done()
	return Reply{}, &NetworkError{Err: ctx.Err()}
}

func TestGenerateContent_AttemptTimeoutAdvances(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	client := New(
		WithLookup(noEnv),
		WithLogger(quietLogger()),
		WithAttemptTimeout(20*time.Millisecond),
		WithOrder("slow", "fast"),
		WithFactory("slow", stubFactory("slow", &calls, blockUntilDone)),
		WithFactory("fast", stubFactory("fast", &calls, replyWith(TextReply("quick")))),
	)
	res, err := client.GenerateContent(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "quick", res.Text())
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateContent_Budget(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	client := New(
		WithLookup(noEnv),
		WithLogger(quietLogger()),
		WithAttemptTimeout(5*time.Second),
		WithBudget(30*time.Millisecond),
		WithOrder("slow", "slower"),
		WithFactory("slow", stubFactory("slow", &calls, blockUntilDone)),
		WithFactory("slower", stubFactory("slower", &calls, blockUntilDone)),
	)
	start := time.Now()
	_, err := client.GenerateContent(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	var failed *AllProvidersFailedError
	require.ErrorAs(t, err, &failed)
	require.Len(t, failed.Attempts, 2)
	assert.ErrorIs(t, failed.Attempts[1].Err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), calls.Load())

	var netErr *NetworkError
	require.ErrorAs(t, failed.Attempts[0].Err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestGenerateContent_ConcurrentCalls(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	client := New(
		WithLookup(noEnv),
		WithLogger(quietLogger()),
		WithOrder("alpha", "beta"),
		WithFactory("alpha", stubFactory("alpha", &calls, failWith(errors.New("down")))),
		WithFactory("beta", stubFactory("beta", &calls, func(_ context.Context, prompt string, _ int) (Reply, error) {
			return TextReply("echo " + prompt), nil
		})),
	)

	const workers = 16
	var wg sync.WaitGroup
	results := make([]string, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := client.GenerateContent(context.Background(), Request{Prompt: strings.Repeat("x", i+1)})
			if err == nil {
				results[i] = res.Text()
			}
		}()
	}
	wg.Wait()
	for i, got := range results {
		assert.Equal(t, "echo "+strings.Repeat("x", i+1), got)
	}
	assert.Equal(t, int32(2*workers), calls.Load())
}

func TestGenerateContent_RefreshesCredentials(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	env := map[string]string{}
	lookup := func(key string) (string, bool) {
		mu.Lock()
		defer mu.Unlock()
		v, ok := env[key]
		return v, ok
	}
	var seen []string
	client := New(
		WithLookup(lookup),
		WithLogger(quietLogger()),
		WithOrder(ProviderDeepSeek),
		WithFactory(ProviderDeepSeek, func(cfg ProviderConfig, _ *http.Client) (Provider, error) {
			if cfg.Credential == "" {
				return nil, notConfigured("credential")
			}
			seen = append(seen, cfg.Credential)
			var calls atomic.Int32
			return &stubProvider{name: ProviderDeepSeek, calls: &calls, fn: replyWith(TextReply("ok"))}, nil
		}),
	)

	res, err := client.GenerateContent(context.Background(), Request{Prompt: "p", Lenient: true})
	require.NoError(t, err)
	assert.True(t, res.IsEmpty())

	mu.Lock()
	env["DEEPSEEK_API_KEY"] = "key-one"
	mu.Unlock()
	_, err = client.GenerateContent(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)

	mu.Lock()
	env["DEEPSEEK_API_KEY"] = "key-two"
	mu.Unlock()
	_, err = client.GenerateContent(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)

	assert.Equal(t, []string{"key-one", "key-two"}, seen)
}

func TestStatus(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"DEEPSEEK_API_KEY": "secret-value",
	}
	client := New(
		WithLookup(func(key string) (string, bool) { v, ok := env[key]; return v, ok }),
		WithLogger(quietLogger()),
	)
	status := client.Status()
	require.Len(t, status, 4)

	byName := map[string]ProviderStatus{}
	for _, s := range status {
		byName[s.Name] = s
		assert.NotContains(t, s.Reason, "secret-value")
	}
	assert.True(t, byName[ProviderDeepSeek].Configured)
	assert.False(t, byName[ProviderAzure].Configured)
	assert.Contains(t, byName[ProviderAzure].Reason, "not configured")
	assert.Equal(t, []string{"azure", "deepseek", "gemini", "huggingface", "ollama"}, client.Providers())
}
