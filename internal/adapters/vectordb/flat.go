// Package vectordb provides the similarity-search structure and its
// on-disk artifacts.
package vectordb

import (
	"errors"
	"sort"

	"github.com/linyone/chatrag/internal/domain/ports"
)

// FlatIndex is an exact inner-product index over unit vectors.
// It is immutable after construction and safe for concurrent Search.
type FlatIndex struct {
	dimension int
	vectors   [][]float32
}

// NewFlatIndex builds an index holding vectors in the given order.
func NewFlatIndex(dimension int, vectors [][]float32) (*FlatIndex, error) {
	if dimension <= 0 {
		return nil, errors.New("invalid dimension")
	}
	for _, v := range vectors {
		if len(v) != dimension {
			return nil, errors.New("vector dimension mismatch")
		}
	}
	return &FlatIndex{dimension: dimension, vectors: vectors}, nil
}

// Len returns the number of indexed vectors.
func (ix *FlatIndex) Len() int { return len(ix.vectors) }

// Dimension returns the vector size.
func (ix *FlatIndex) Dimension() int { return ix.dimension }

// Search returns the topK nearest vectors by inner product, best first.
// Equal scores keep index order.
func (ix *FlatIndex) Search(query []float32, topK int) []ports.Hit {
	if topK <= 0 || len(query) != ix.dimension {
		return nil
	}
	hits := make([]ports.Hit, len(ix.vectors))
	for i, v := range ix.vectors {
		hits[i] = ports.Hit{ID: i, Score: dot(query, v)}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
