package diffusion

import (
	"fmt"
	"strings"
)

// ModelFamily identifies the architecture being fine-tuned. All per-family
// behavior in this package is table driven off of this type.
type ModelFamily string

const (
	SDXL            ModelFamily = "sdxl"
	SD3             ModelFamily = "sd3"
	Flux            ModelFamily = "flux"
	Kolors          ModelFamily = "kolors"
	Legacy          ModelFamily = "legacy"
	PixArtSigma     ModelFamily = "pixart_sigma"
	SmolDiT         ModelFamily = "smoldit"
	DeepFloyd       ModelFamily = "deepfloyd"
	DeepFloydStage2 ModelFamily = "deepfloyd_stage2"
)

var allFamilies = []ModelFamily{
	SDXL, SD3, Flux, Kolors, Legacy, PixArtSigma, SmolDiT, DeepFloyd, DeepFloydStage2,
}

func ParseModelFamily(s string) (ModelFamily, error) {
	name := ModelFamily(strings.ToLower(strings.TrimSpace(s)))
	for _, family := range allFamilies {
		if name == family {
			return family, nil
		}
	}
	return "", fmt.Errorf("unknown model family %q", s)
}

type familyProperties struct {
	FlowMatching     bool
	RequiresMask     bool
	UsesPooledEmbeds bool
	SupportsNegative bool
	LatentMultiple   int
	MinEdge          int
}

var familyTable = map[ModelFamily]familyProperties{
	SDXL:            {UsesPooledEmbeds: true, SupportsNegative: true, LatentMultiple: 64},
	SD3:             {FlowMatching: true, UsesPooledEmbeds: true, SupportsNegative: true, LatentMultiple: 64},
	Flux:            {FlowMatching: true, UsesPooledEmbeds: true, SupportsNegative: false, LatentMultiple: 64},
	Kolors:          {UsesPooledEmbeds: true, SupportsNegative: true, LatentMultiple: 64},
	Legacy:          {SupportsNegative: true, LatentMultiple: 64},
	PixArtSigma:     {RequiresMask: true, SupportsNegative: true, LatentMultiple: 64},
	SmolDiT:         {RequiresMask: true, SupportsNegative: true, LatentMultiple: 64},
	DeepFloyd:       {SupportsNegative: true, LatentMultiple: 64},
	DeepFloydStage2: {SupportsNegative: true, LatentMultiple: 64, MinEdge: 256},
}

// IsFlowMatching reports whether the family trains with a flow matching
// objective. Flow matching families keep their trained scheduler during
// validation regardless of any configured override.
func (f ModelFamily) IsFlowMatching() bool { return familyTable[f].FlowMatching }

// RequiresAttentionMask reports whether the family's text encoder output must
// be accompanied by an attention mask at inference time.
func (f ModelFamily) RequiresAttentionMask() bool { return familyTable[f].RequiresMask }

func (f ModelFamily) UsesPooledEmbeds() bool { return familyTable[f].UsesPooledEmbeds }

func (f ModelFamily) SupportsNegativePrompt() bool { return familyTable[f].SupportsNegative }

// LatentMultiple is the pixel alignment required by the family's VAE. Sample
// dimensions are rounded to the nearest such multiple before generation.
func (f ModelFamily) LatentMultiple() int {
	if m := familyTable[f].LatentMultiple; m > 0 {
		return m
	}
	return 64
}

// MinValidationEdge is the smallest resolution edge the family accepts, or 0
// when there is no constraint. The stage-2 super-resolution models refuse
// inputs below 256px.
func (f ModelFamily) MinValidationEdge() int { return familyTable[f].MinEdge }

func (f ModelFamily) IsDeepFloyd() bool { return f == DeepFloyd || f == DeepFloydStage2 }
