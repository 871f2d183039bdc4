package usage

import "github.com/rs/zerolog"

// Totals holds token counts and prices reported by a model for one or more chunks.
// All fields are non-negative accumulators.
type Totals struct {
	PromptTokens     int     `json:"prompt_tokens" yaml:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens" yaml:"completion_tokens"`
	PromptPrice      float64 `json:"prompt_price" yaml:"prompt_price"`
	CompletionPrice  float64 `json:"completion_price" yaml:"completion_price"`
	Currency         string  `json:"currency,omitempty" yaml:"currency,omitempty"`
}

func (t Totals) TotalTokens() int {
	return t.PromptTokens + t.CompletionTokens
}

func (t Totals) TotalPrice() float64 {
	return t.PromptPrice + t.CompletionPrice
}

func (t Totals) IsZero() bool {
	return t == Totals{}
}

func (t Totals) MarshalZerologObject(e *zerolog.Event) {
	e.Int("prompt_tokens", t.PromptTokens).
		Int("completion_tokens", t.CompletionTokens).
		Float64("prompt_price", t.PromptPrice).
		Float64("completion_price", t.CompletionPrice)
	if t.Currency != "" {
		e.Str("currency", t.Currency)
	}
}

// Merge folds inc into total. A nil total adopts inc verbatim, otherwise token counts
// and prices are summed field by field. The currency of the first observation wins.
func Merge(total *Totals, inc Totals) Totals {
	if total == nil {
		return inc
	}
	ret := *total
	ret.PromptTokens += inc.PromptTokens
	ret.CompletionTokens += inc.CompletionTokens
	ret.PromptPrice += inc.PromptPrice
	ret.CompletionPrice += inc.CompletionPrice
	if ret.Currency == "" {
		ret.Currency = inc.Currency
	}
	return ret
}

// Accumulator is the mutable cell a run keeps its usage in.
type Accumulator struct {
	total *Totals
}

func (a *Accumulator) Add(inc Totals) {
	merged := Merge(a.total, inc)
	a.total = &merged
}

// Total returns the accumulated usage and whether any usage was observed at all.
func (a *Accumulator) Total() (Totals, bool) {
	if a.total == nil {
		return Totals{}, false
	}
	return *a.total, true
}
