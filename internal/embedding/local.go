package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// LocalClient is an offline, fully deterministic embedder based on feature
// hashing: each token contributes signed weight to a handful of dimensions
// derived from its hash. Texts sharing vocabulary land near each other,
// which is enough for development, tests and the evaluation harness to run
// without a network-backed model.
type LocalClient struct {
	model string
	dims  int
}

const localProbes = 4

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// NewLocalClient creates a local hashing embedder
func NewLocalClient(model string, dims int) *LocalClient {
	if model == "" {
		model = "hash-v1"
	}
	if dims <= 0 {
		dims = 256
	}
	return &LocalClient{model: model, dims: dims}
}

// Embed generates an embedding for a single text
func (c *LocalClient) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, c.dims)
	for _, token := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		h := fnv.New64a()
		h.Write([]byte(token))
		state := h.Sum64()
		for probe := 0; probe < localProbes; probe++ {
			// xorshift keeps each probe's dimension and sign independent
			state ^= state << 13
			state ^= state >> 7
			state ^= state << 17
			idx := int(state % uint64(c.dims))
			if state&(1<<63) != 0 {
				vec[idx] -= 1
			} else {
				vec[idx] += 1
			}
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts
func (c *LocalClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Model returns the model identifier
func (c *LocalClient) Model() string {
	return c.model
}

// Dimensions returns the dimension of the embeddings
func (c *LocalClient) Dimensions() int {
	return c.dims
}
