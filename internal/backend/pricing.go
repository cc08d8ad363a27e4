package backend

import "strings"

// Price is a model price in USD per million tokens.
type Price struct {
	Input  float64
	Output float64
}

// PriceTable maps model ids to prices.
type PriceTable map[string]Price

// DefaultPrices covers the Anthropic and OpenAI models the SDK backend is
// normally pointed at.
var DefaultPrices = PriceTable{
	"claude-sonnet-4-20250514":   {Input: 3.0, Output: 15.0},
	"claude-opus-4-20250514":     {Input: 15.0, Output: 75.0},
	"claude-3-5-sonnet-20241022": {Input: 3.0, Output: 15.0},
	"claude-3-5-haiku-20241022":  {Input: 0.8, Output: 4.0},
	"claude-haiku-4-5-20251001":  {Input: 0.8, Output: 4.0},
	"claude-haiku-4-5":           {Input: 0.8, Output: 4.0},
	"gpt-5":                      {Input: 1.25, Output: 10.0},
	"gpt-5-mini":                 {Input: 0.25, Output: 2.0},
	"gpt-5-nano":                 {Input: 0.05, Output: 0.4},
	"gpt-4o":                     {Input: 2.5, Output: 10.0},
	"gpt-4o-mini":                {Input: 0.15, Output: 0.6},
	"o1":                         {Input: 15.0, Output: 60.0},
	"o1-mini":                    {Input: 1.1, Output: 4.4},
}

// Lookup finds the price for model. Dated ids fall back to the longest
// known prefix, so "claude-haiku-4-5-20990101" is priced as claude-haiku-4-5.
func (t PriceTable) Lookup(model string) (Price, bool) {
	if p, ok := t[model]; ok {
		return p, true
	}
	best := ""
	for id := range t {
		if strings.HasPrefix(model, id) && len(id) > len(best) {
			best = id
		}
	}
	if best == "" {
		return Price{}, false
	}
	return t[best], true
}

// Cost returns the USD cost of a call. Unknown models cost zero.
func (t PriceTable) Cost(model string, inputTokens, outputTokens int) float64 {
	p, ok := t.Lookup(model)
	if !ok {
		return 0
	}
	return (float64(inputTokens)*p.Input + float64(outputTokens)*p.Output) / 1_000_000
}
