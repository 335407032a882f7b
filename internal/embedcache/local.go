package embedcache

import (
	"context"
	"crypto/sha1"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"tuner-backend/internal/diffusion"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"
)

const maxTokenLength = 77

// LocalCache runs a tokenizer and an exported ONNX text encoder in process,
// memoizing results in memory and on disk under cacheDir. The disk entries
// survive process restarts so resumed runs skip the encode pass entirely.
type LocalCache struct {
	family    diffusion.ModelFamily
	cacheDir  string
	tokenizer *tokenizers.Tokenizer
	encoder   *ort.DynamicAdvancedSession
	hiddenDim int64

	mu   sync.Mutex
	memo map[string][]*diffusion.Tensor
}

func NewLocalCache(family diffusion.ModelFamily, modelDir, cacheDir, tokenizerName string, hiddenDim int64) (*LocalCache, error) {
	if err := os.MkdirAll(cacheDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("creating embed cache dir: %w", err)
	}

	tk, err := tokenizers.FromPretrained(tokenizerName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer load: %w", err)
	}

	encoder, err := ort.NewDynamicAdvancedSession(
		filepath.Join(modelDir, "text_encoder.onnx"),
		[]string{"input_ids"},
		[]string{"last_hidden_state", "pooler_output"},
		nil,
	)
	if err != nil {
		tk.Close()
		return nil, fmt.Errorf("failed to create text encoder session: %w", err)
	}

	return &LocalCache{
		family:    family,
		cacheDir:  cacheDir,
		tokenizer: tk,
		encoder:   encoder,
		hiddenDim: hiddenDim,
		memo:      make(map[string][]*diffusion.Tensor),
	}, nil
}

func (c *LocalCache) ModelFamily() diffusion.ModelFamily { return c.family }

func (c *LocalCache) ComputeEmbeddingsForPrompts(ctx context.Context, prompts []string, isValidation, loadFromCache bool) ([]*diffusion.Tensor, error) {
	if len(prompts) != 1 {
		return nil, fmt.Errorf("local embed cache computes one prompt at a time, got %d", len(prompts))
	}
	prompt := prompts[0]

	key := cacheKey(prompt)
	if loadFromCache {
		if cached := c.lookup(key); cached != nil {
			return cached, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tuple, err := c.encode(prompt)
	if err != nil {
		return nil, err
	}

	if loadFromCache {
		c.store(key, tuple)
	}
	return tuple, nil
}

func (c *LocalCache) lookup(key string) []*diffusion.Tensor {
	c.mu.Lock()
	if tuple, ok := c.memo[key]; ok {
		c.mu.Unlock()
		return tuple
	}
	c.mu.Unlock()

	path := filepath.Join(c.cacheDir, key+".gob")
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var tuple []*diffusion.Tensor
	if err := gob.NewDecoder(f).Decode(&tuple); err != nil {
		return nil
	}

	c.mu.Lock()
	c.memo[key] = tuple
	c.mu.Unlock()
	return tuple
}

func (c *LocalCache) store(key string, tuple []*diffusion.Tensor) {
	c.mu.Lock()
	c.memo[key] = tuple
	c.mu.Unlock()

	path := filepath.Join(c.cacheDir, key+".gob")
	f, err := os.Create(path)
	if err != nil {
		return
	}
	defer f.Close()
	// A failed disk write only costs a recompute on the next restart.
	_ = gob.NewEncoder(f).Encode(tuple)
}

func (c *LocalCache) encode(prompt string) ([]*diffusion.Tensor, error) {
	enc := c.tokenizer.EncodeWithOptions(prompt, true, tokenizers.WithReturnAllAttributes())

	ids := make([]int64, maxTokenLength)
	mask := make([]float32, maxTokenLength)
	for i := 0; i < maxTokenLength && i < len(enc.IDs); i++ {
		ids[i] = int64(enc.IDs[i])
		mask[i] = 1
	}

	inT, err := ort.NewTensor(ort.NewShape(1, maxTokenLength), ids)
	if err != nil {
		return nil, err
	}
	defer inT.Destroy()

	hiddenT, err := ort.NewEmptyTensor[float32](ort.NewShape(1, maxTokenLength, c.hiddenDim))
	if err != nil {
		return nil, err
	}
	defer hiddenT.Destroy()

	pooledT, err := ort.NewEmptyTensor[float32](ort.NewShape(1, c.hiddenDim))
	if err != nil {
		return nil, err
	}
	defer pooledT.Destroy()

	if err := c.encoder.Run([]ort.Value{inT}, []ort.Value{hiddenT, pooledT}); err != nil {
		return nil, fmt.Errorf("text encoder run error: %w", err)
	}

	embeds := diffusion.NewTensor(append([]float32(nil), hiddenT.GetData()...), 1, maxTokenLength, c.hiddenDim)
	pooled := diffusion.NewTensor(append([]float32(nil), pooledT.GetData()...), 1, c.hiddenDim)

	tuple := []*diffusion.Tensor{embeds, pooled}
	if c.family.RequiresAttentionMask() {
		timeIDs := diffusion.NewTensor([]float32{0, 0, 0, 0, 0, 0}, 1, 6)
		maskT := diffusion.NewTensor(mask, 1, maxTokenLength)
		tuple = append(tuple, timeIDs, maskT)
	}
	return tuple, nil
}

func (c *LocalCache) Close() {
	c.encoder.Destroy()
	c.tokenizer.Close()
}

func cacheKey(prompt string) string {
	sum := sha1.Sum([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
