package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/linyone/chatrag/internal/domain/entities"
)

// HashingAdapter is a deterministic, offline feature-hashing encoder.
// It needs no corpus preparation, so build and serving produce identical
// vectors for identical text.
type HashingAdapter struct {
	dimension    int
	tokenPattern *regexp.Regexp
}

// NewHashingAdapter creates a hashing encoder with the given dimension.
func NewHashingAdapter(dimension int) *HashingAdapter {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashingAdapter{
		dimension: dimension,
		// marks are kept inside tokens so Burmese syllables stay whole
		tokenPattern: regexp.MustCompile(`[\p{L}\p{M}\p{N}]+`),
	}
}

// Info identifies this encoder.
func (a *HashingAdapter) Info() entities.ModelInfo {
	return entities.ModelInfo{
		Model:     fmt.Sprintf("hash-%d", a.dimension),
		Provider:  ProviderHash,
		Dimension: a.dimension,
	}
}

// Embed hashes unigrams and bigrams into a signed, L2-normalized vector.
func (a *HashingAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, a.dimension)
	tokens := a.tokenPattern.FindAllString(strings.ToLower(text), -1)
	for i, tok := range tokens {
		a.add(vec, tok)
		if i > 0 {
			a.add(vec, tokens[i-1]+" "+tok)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text in order.
func (a *HashingAdapter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := a.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (a *HashingAdapter) add(vec []float32, feature string) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(a.dimension))
	if sum>>63 == 1 {
		vec[idx]--
	} else {
		vec[idx]++
	}
}
