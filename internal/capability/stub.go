package capability

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Stub models back the "stub" provider: deterministic, dependency-free
// implementations of the model contracts used by the demo configuration and
// tests. No mocked cleverness, just predictable output.

// StubGenerator echoes the prompt back token by token after a simulated
// load delay.
type StubGenerator struct {
	Identity string
	// LoadDelay is applied by NewStubGenerator before returning, to make
	// spawn timing observable.
	LoadDelay time.Duration
}

// NewStubGenerator is a GenerateLoader.
func NewStubGenerator(delay time.Duration) GenerateLoader {
	return func(ctx context.Context, identity string) (GenerateModel, error) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return &StubGenerator{Identity: identity, LoadDelay: delay}, nil
	}
}

func (s *StubGenerator) Generate(ctx context.Context, prompt string, opts GenerateOpts) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return fmt.Sprintf("[%s] %s", s.Identity, prompt), nil
}

func (s *StubGenerator) Stream(ctx context.Context, prompt string, opts GenerateOpts, emit func(string) error) error {
	tokens := strings.Fields(fmt.Sprintf("[%s] %s", s.Identity, prompt))
	if opts.MaxTokens > 0 && len(tokens) > opts.MaxTokens {
		tokens = tokens[:opts.MaxTokens]
	}
	for _, tok := range tokens {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := emit(tok); err != nil {
			return err
		}
	}
	return nil
}

func (s *StubGenerator) Close() error { return nil }

// StubEmbedder produces a small deterministic vector from an FNV hash of the
// input, so equal inputs embed equally across runs.
type StubEmbedder struct {
	Identity string
	Dim      int
}

// NewStubEmbedder is an EmbedLoader producing dim-sized vectors.
func NewStubEmbedder(dim int, delay time.Duration) EmbedLoader {
	return func(ctx context.Context, identity string) (EmbedModel, error) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if dim <= 0 {
			dim = 8
		}
		return &StubEmbedder{Identity: identity, Dim: dim}, nil
	}
}

func (s *StubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	h := fnv.New64a()
	h.Write([]byte(s.Identity))
	h.Write([]byte(text))
	seed := h.Sum64()
	vec := make([]float32, s.Dim)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33)%1000) / 1000
	}
	return vec, nil
}

func (s *StubEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *StubEmbedder) Close() error { return nil }
