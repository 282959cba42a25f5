package embedding

import (
	"context"
	"math"
	"testing"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder(16)
	ctx := context.Background()

	a, err := e.Embed(ctx, "Product: Widget.")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, _ := e.Embed(ctx, "Product: Widget.")
	c, _ := e.Embed(ctx, "Product: Gadget.")

	if len(a) != 16 {
		t.Fatalf("len: got %d, want 16", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same text produced different vectors at %d", i)
		}
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts produced identical vectors")
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-5 {
		t.Errorf("expected unit vector, norm %f", math.Sqrt(norm))
	}
}

func TestMockEmbedder_Batch(t *testing.T) {
	e := NewMockEmbedder(4)
	out, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d vectors", len(out))
	}
	single, _ := e.Embed(context.Background(), "b")
	for i := range single {
		if out[1][i] != single[i] {
			t.Fatal("batch result differs from single embed")
		}
	}
}

func TestMockEmbedder_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockEmbedder(4).Embed(ctx, "x"); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestNew_Providers(t *testing.T) {
	ctx := context.Background()

	emb, err := New(ctx, Config{Provider: "mock", Dimensions: 12})
	if err != nil {
		t.Fatalf("New mock: %v", err)
	}
	if emb.Dimensions() != 12 {
		t.Errorf("Dimensions: got %d", emb.Dimensions())
	}

	cached, err := New(ctx, Config{Provider: "MOCK", Dimensions: 12, CacheSize: 10})
	if err != nil {
		t.Fatalf("New cached: %v", err)
	}
	if _, ok := cached.(*CachedEmbedder); !ok {
		t.Errorf("expected *CachedEmbedder, got %T", cached)
	}

	if _, err := New(ctx, Config{Provider: "word2vec"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := New(ctx, Config{Provider: "openai", Dimensions: 12}); err == nil {
		t.Error("expected error for openai without api key")
	}
	if _, err := New(ctx, Config{Provider: "gemini", Dimensions: 12}); err == nil {
		t.Error("expected error for gemini without api key")
	}
}
