package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider returns scripted results in order.
type fakeProvider struct {
	name     string
	results  []fakeResult
	calls    int
	requests []ProviderRequest
}

type fakeResult struct {
	out *RawOutput
	err error
}

func (f *fakeProvider) Generate(_ context.Context, req ProviderRequest) (*RawOutput, error) {
	f.requests = append(f.requests, req)
	if f.calls >= len(f.results) {
		return nil, Permanent(errors.New("no more scripted results"))
	}
	r := f.results[f.calls]
	f.calls++
	return r.out, r.err
}

func (f *fakeProvider) Name() string {
	if f.name == "" {
		return "fake/model"
	}
	return f.name
}

func newTestGateway(p Provider) *Gateway {
	return NewGateway(p, GatewayConfig{
		ContextLimit:     16000,
		SafetyMargin:     1024,
		MaxTokens:        2048,
		Temperature:      0.7,
		TransientRetries: 2,
	}, nil)
}

func TestStopContract_UniquePerRun(t *testing.T) {
	a := NewStopContract()
	b := NewStopContract()
	assert.NotEqual(t, a.Sentinel, b.Sentinel)
	assert.True(t, strings.HasPrefix(a.Sentinel, "<<END-"))
}

func TestStopContract_StopSequencesIncludeSecondaryPhrases(t *testing.T) {
	c := NewStopContract()
	stops := c.StopSequences()
	assert.Equal(t, c.Sentinel, stops[0])
	assert.Contains(t, stops, "Here is the revised")
	assert.Contains(t, stops, "Certainly!")
}

func TestStopContract_StripSentinel(t *testing.T) {
	c := NewStopContract()

	t.Run("full sentinel", func(t *testing.T) {
		got := c.StripSentinel("the prose." + c.Sentinel + "trailing junk")
		assert.Equal(t, "the prose.", got)
	})

	t.Run("partial sentinel at tail", func(t *testing.T) {
		got := c.StripSentinel("the prose.\n<<END-1a2")
		assert.Equal(t, "the prose.", got)
	})

	t.Run("no sentinel", func(t *testing.T) {
		assert.Equal(t, "untouched", c.StripSentinel("untouched"))
	})
}

func TestClampMaxTokens(t *testing.T) {
	tests := []struct {
		name         string
		prompt, max  int
		limit, marg  int
		want         int
		wantFit      bool
	}{
		{"fits untouched", 1000, 2000, 16000, 1024, 2000, true},
		{"clamped", 10000, 8000, 16000, 1024, 4976, true},
		{"no room", 15500, 2000, 16000, 1024, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ClampMaxTokens(tt.prompt, tt.max, tt.limit, tt.marg)
			assert.Equal(t, tt.wantFit, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGateway_AppendsContractAndStops(t *testing.T) {
	p := &fakeProvider{results: []fakeResult{
		{out: &RawOutput{Text: "prose", Usage: TokenUsage{Prompt: 10, Completion: 5}}},
	}}
	g := newTestGateway(p)

	out, err := g.Generate(context.Background(), Request{Prompt: "write scene 1", System: "You write prose."})
	require.NoError(t, err)
	assert.Equal(t, "prose", out.Text)

	require.Len(t, p.requests, 1)
	req := p.requests[0]
	assert.Contains(t, req.System, g.Contract().Sentinel)
	assert.Equal(t, g.Contract().StopSequences(), req.StopSequences)
}

func TestGateway_RetriesTransientOnly(t *testing.T) {
	t.Run("transient then success", func(t *testing.T) {
		p := &fakeProvider{results: []fakeResult{
			{err: Transient(errors.New("rate limited (429)"))},
			{out: &RawOutput{Text: "ok"}},
		}}
		g := newTestGateway(p)

		out, err := g.Generate(context.Background(), Request{Prompt: "p"})
		require.NoError(t, err)
		assert.Equal(t, "ok", out.Text)
		assert.Equal(t, 2, p.calls)
	})

	t.Run("permanent fails immediately", func(t *testing.T) {
		p := &fakeProvider{results: []fakeResult{
			{err: Permanent(errors.New("malformed response"))},
		}}
		g := newTestGateway(p)

		_, err := g.Generate(context.Background(), Request{Prompt: "p"})
		require.Error(t, err)
		assert.False(t, IsTransient(err))
		assert.Equal(t, 1, p.calls)
	})

	t.Run("exhausted retries", func(t *testing.T) {
		p := &fakeProvider{results: []fakeResult{
			{err: Transient(errors.New("timeout"))},
			{err: Transient(errors.New("timeout"))},
			{err: Transient(errors.New("timeout"))},
		}}
		g := newTestGateway(p)

		_, err := g.Generate(context.Background(), Request{Prompt: "p"})
		require.Error(t, err)
		assert.True(t, IsTransient(err))
		assert.Equal(t, 3, p.calls) // initial + 2 retries
	})
}

func TestGateway_RejectsOversizedPrompt(t *testing.T) {
	p := &fakeProvider{}
	g := NewGateway(p, GatewayConfig{ContextLimit: 1000, SafetyMargin: 256, MaxTokens: 512}, nil)

	_, err := g.Generate(context.Background(), Request{Prompt: strings.Repeat("word ", 2000)})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Zero(t, p.calls)
}

func TestGateway_StripsSentinelFromOutput(t *testing.T) {
	p := &fakeProvider{}
	g := newTestGateway(p)
	p.results = []fakeResult{
		{out: &RawOutput{Text: "final prose.\n" + g.Contract().Sentinel}},
	}

	out, err := g.Generate(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "final prose.", out.Text)
}

func TestPreflight(t *testing.T) {
	contract := NewStopContract()

	tests := []struct {
		name    string
		out     *RawOutput
		err     error
		wantOK  bool
		problem string
	}{
		{"healthy", &RawOutput{Text: "Rain streaked the glass."}, nil, true, ""},
		{"empty", &RawOutput{Text: "   "}, nil, false, "empty response"},
		{"leakage", &RawOutput{Text: "Output only the content itself"}, nil, false, "contract leakage"},
		{"preamble", &RawOutput{Text: "Certainly! Rain fell."}, nil, false, "assistant preamble"},
		{"error", nil, Transient(errors.New("boom")), false, "request failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{results: []fakeResult{{out: tt.out, err: tt.err}}}
			findings := Preflight(context.Background(), []Provider{p}, contract, nil)
			require.Len(t, findings, 1)
			assert.Equal(t, tt.wantOK, findings[0].OK)
			if !tt.wantOK {
				assert.Contains(t, findings[0].Problem, tt.problem)
			}
		})
	}

	t.Run("deduplicates providers by name", func(t *testing.T) {
		p := &fakeProvider{name: "dup", results: []fakeResult{
			{out: &RawOutput{Text: "Rain fell softly."}},
			{out: &RawOutput{Text: "Rain fell softly."}},
		}}
		findings := Preflight(context.Background(), []Provider{p, p}, contract, nil)
		assert.Len(t, findings, 1)
	})
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("underlying")
	wrapped := fmt.Errorf("context: %w", Transient(base))
	assert.True(t, IsTransient(wrapped))
	assert.True(t, errors.Is(wrapped, base))
	assert.False(t, IsTransient(Permanent(base)))
}
