package retrieval

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/stockpulse/internal/resilience"
	"github.com/sells-group/stockpulse/pkg/jina"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// QueryEmbedder is implemented by embedders that encode search queries
// differently from stored documents.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// JinaEmbedder embeds with the Jina embeddings API.
type JinaEmbedder struct {
	client     jina.Client
	dimensions int
	policy     resilience.Policy
}

// NewJinaEmbedder creates an embedder producing vectors of dimensions length.
func NewJinaEmbedder(client jina.Client, dimensions int, policy resilience.Policy) *JinaEmbedder {
	return &JinaEmbedder{client: client, dimensions: dimensions, policy: policy}
}

// Embed implements Embedder for documents.
func (e *JinaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, jina.TaskPassage)
}

// EmbedQuery implements QueryEmbedder.
func (e *JinaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, jina.TaskQuery)
}

func (e *JinaEmbedder) embed(ctx context.Context, text, task string) ([]float32, error) {
	resp, err := resilience.CallVal(ctx, e.policy, func(ctx context.Context) (*jina.EmbedResponse, error) {
		resp, err := e.client.Embed(ctx, []string{text}, jina.WithTask(task), jina.WithDimensions(e.dimensions))
		var se *jina.StatusError
		if errors.As(err, &se) && resilience.IsTransientHTTPStatus(se.StatusCode) {
			return nil, resilience.NewTransientError(err, se.StatusCode)
		}
		return resp, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: jina embed")
	}
	if len(resp.Data) != 1 {
		return nil, eris.Errorf("retrieval: jina returned %d embeddings", len(resp.Data))
	}
	return resp.Data[0].Embedding, nil
}

// HashEmbedder is a deterministic offline embedder: lower-cased word tokens
// are hashed into buckets with a signed count, then L2-normalized. Texts that
// share words land close together.
type HashEmbedder struct {
	Dimensions int
}

// Embed implements Embedder.
func (h HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.Dimensions <= 0 {
		return nil, eris.New("retrieval: hash embedder needs positive dimensions")
	}

	vec := make([]float32, h.Dimensions)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		f := fnv.New64a()
		f.Write([]byte(tok)) //nolint:errcheck
		sum := f.Sum64()
		idx := int(sum % uint64(h.Dimensions))
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}
