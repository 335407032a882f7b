package validation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tuner-backend/internal/diffusion"
	"tuner-backend/internal/embedcache"
)

// ErrUnexpectedEmbeddingShape marks a cache return whose arity does not
// match any known embedding layout.
var ErrUnexpectedEmbeddingShape = errors.New("unexpected embedding shape")

// ResolvedEmbeds is the normalized embedding bundle for one prompt, already
// moved to the inference device and precision.
type ResolvedEmbeds struct {
	PromptEmbeds  *diffusion.Tensor
	PooledEmbeds  *diffusion.Tensor
	TimeIDs       *diffusion.Tensor
	AttentionMask *diffusion.Tensor
}

// EmbedResolver turns cache tuples into ResolvedEmbeds. The tuple arity is
// mapped by a fixed table:
//
//	2: prompt embeds, pooled embeds
//	3: prompt embeds, pooled embeds, time ids
//	4: prompt embeds, pooled embeds, time ids, attention mask
//
// Families that require an attention mask fail resolution when the tuple
// does not carry one. The negative prompt is resolved at most once per run.
type EmbedResolver struct {
	cache      embedcache.Cache
	device     diffusion.Device
	dtype      diffusion.DType
	fluxMasked bool

	mu       sync.Mutex
	negative *ResolvedEmbeds
	negErr   error
	negDone  bool
}

// NewEmbedResolver builds a resolver for the cache's model family.
// fluxMasked marks flux checkpoints trained with masked attention; those
// demand an attention mask in every tuple just like the always-masked
// families do.
func NewEmbedResolver(cache embedcache.Cache, device diffusion.Device, dtype diffusion.DType, fluxMasked bool) *EmbedResolver {
	return &EmbedResolver{cache: cache, device: device, dtype: dtype, fluxMasked: fluxMasked}
}

func (r *EmbedResolver) Resolve(ctx context.Context, prompt string) (*ResolvedEmbeds, error) {
	tuple, err := r.cache.ComputeEmbeddingsForPrompts(ctx, []string{prompt}, true, true)
	if err != nil {
		return nil, fmt.Errorf("computing embeddings: %w", err)
	}
	return r.fromTuple(tuple)
}

// ResolveNegative resolves the negative prompt once and serves the cached
// bundle for the rest of the run.
func (r *EmbedResolver) ResolveNegative(ctx context.Context, prompt string) (*ResolvedEmbeds, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.negDone {
		return r.negative, r.negErr
	}

	r.negative, r.negErr = r.resolveLocked(ctx, prompt)
	r.negDone = true
	return r.negative, r.negErr
}

func (r *EmbedResolver) resolveLocked(ctx context.Context, prompt string) (*ResolvedEmbeds, error) {
	tuple, err := r.cache.ComputeEmbeddingsForPrompts(ctx, []string{prompt}, true, true)
	if err != nil {
		return nil, fmt.Errorf("computing negative embeddings: %w", err)
	}
	return r.fromTuple(tuple)
}

// Reset clears per-run state so the next run re-resolves the negative
// prompt.
func (r *EmbedResolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.negative = nil
	r.negErr = nil
	r.negDone = false
}

func (r *EmbedResolver) maskRequired() bool {
	if r.cache.ModelFamily() == diffusion.Flux {
		return r.fluxMasked
	}
	return r.cache.ModelFamily().RequiresAttentionMask()
}

func (r *EmbedResolver) fromTuple(tuple []*diffusion.Tensor) (*ResolvedEmbeds, error) {
	resolved := &ResolvedEmbeds{}
	switch len(tuple) {
	case 2:
		resolved.PromptEmbeds = tuple[0]
		resolved.PooledEmbeds = tuple[1]
	case 3:
		resolved.PromptEmbeds = tuple[0]
		resolved.PooledEmbeds = tuple[1]
		resolved.TimeIDs = tuple[2]
	case 4:
		resolved.PromptEmbeds = tuple[0]
		resolved.PooledEmbeds = tuple[1]
		resolved.TimeIDs = tuple[2]
		resolved.AttentionMask = tuple[3]
	default:
		return nil, fmt.Errorf("%w: embedding cache returned %d tensors", ErrUnexpectedEmbeddingShape, len(tuple))
	}

	if r.maskRequired() && resolved.AttentionMask == nil {
		return nil, fmt.Errorf("%w: %s requires an attention mask but none was returned",
			ErrUnexpectedEmbeddingShape, r.cache.ModelFamily())
	}

	resolved.PromptEmbeds = resolved.PromptEmbeds.To(r.device, r.dtype)
	resolved.PooledEmbeds = resolved.PooledEmbeds.To(r.device, r.dtype)
	resolved.TimeIDs = resolved.TimeIDs.To(r.device, r.dtype)
	resolved.AttentionMask = resolved.AttentionMask.To(r.device, r.dtype)
	return resolved, nil
}
