// Package embedcache computes and memoizes text-encoder embeddings for
// validation prompts. Embeddings are precomputed once per prompt and reused
// across every validation run of the training job.
package embedcache

import (
	"context"

	"tuner-backend/internal/diffusion"
)

// Cache produces the embedding tuple for a batch of prompts. The arity of
// the returned slice depends on the model family:
//
//	2: prompt embeds, pooled embeds
//	3: prompt embeds, pooled embeds, time ids
//	4: prompt embeds, pooled embeds, time ids, attention mask
//
// loadFromCache=false forces recomputation (used when sampling fresh
// training captions rather than the fixed validation set).
type Cache interface {
	ComputeEmbeddingsForPrompts(ctx context.Context, prompts []string, isValidation, loadFromCache bool) ([]*diffusion.Tensor, error)
	ModelFamily() diffusion.ModelFamily
}
