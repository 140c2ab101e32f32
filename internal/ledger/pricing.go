package ledger

import "strings"

// Pricing holds the two linear per-million-token rates for a model.
// Input is always cheaper than output.
type Pricing struct {
	InputPerMTok  float64 // USD per million input tokens
	OutputPerMTok float64 // USD per million output tokens
}

// InputRate returns the per-token input rate in USD.
func (p Pricing) InputRate() float64 { return p.InputPerMTok / 1_000_000 }

// OutputRate returns the per-token output rate in USD.
func (p Pricing) OutputRate() float64 { return p.OutputPerMTok / 1_000_000 }

// Cost computes the USD cost of a request from token counts.
func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*p.InputRate() + float64(outputTokens)*p.OutputRate()
}

// modelPricingTable maps model names to their pricing.
var modelPricingTable = map[string]Pricing{
	"claude-sonnet-4-5-20250929": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku-4-5-20251001":  {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-sonnet-4-5":          {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku-4-5":           {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-3-5-sonnet-20241022": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-3-5-haiku-20241022":  {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-3-haiku-20240307":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},
}

// modelFamilyPricing maps model family prefixes to pricing. Lookup takes the
// longest matching prefix so version-specific families win over broad ones.
var modelFamilyPricing = map[string]Pricing{
	"claude-3-5-sonnet": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-3-5-haiku":  {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-3-haiku":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},
	"claude-sonnet":     {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku":      {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-opus":       {InputPerMTok: 15, OutputPerMTok: 75},
}

// defaultPricing is used for unknown models; conservative so an unrecognized
// model never silently overspends.
var defaultPricing = Pricing{InputPerMTok: 15, OutputPerMTok: 75}

// PricingForModel returns pricing for a model: exact match, then longest
// family prefix, then the conservative default.
func PricingForModel(model string) Pricing {
	if p, ok := modelPricingTable[model]; ok {
		return p
	}

	bestPrefix := ""
	var best Pricing
	for prefix, p := range modelFamilyPricing {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
			best = p
		}
	}
	if bestPrefix != "" {
		return best
	}
	return defaultPricing
}
