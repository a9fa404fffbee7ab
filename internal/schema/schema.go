// Package schema supplies the table/column description text handed
// verbatim to the prompt assembler.
package schema

import (
	"fmt"
	"os"
	"strings"
)

// Provider returns the schema context for a query. The text is consumed
// verbatim by the assembler; ownership of its content lies outside the
// pipeline core.
type Provider interface {
	Context() (string, error)
}

// defaultDescription covers the valuation warehouse tables.
const defaultDescription = `Valuations: EntityId, EntityTypeId, ValuationDate, Value, FrequencyId. One row per entity per valuation date; Value is the percentage change for the period.
MarketIndex: MarketIndexId, MarketIndexName, FundName. Joined to Valuations on EntityId = MarketIndexId.
EntityType: EntityTypeId, EntityTypeName. 3 = Market Index, 1 = Asset.
Frequency: FrequencyId, FrequencyName. Monthly valuations use FrequencyId = 3.`

// StaticProvider serves a fixed description string.
type StaticProvider struct {
	text string
}

// NewStaticProvider returns a provider over the given text, or over the
// embedded default description when text is empty.
func NewStaticProvider(text string) *StaticProvider {
	if strings.TrimSpace(text) == "" {
		text = defaultDescription
	}
	return &StaticProvider{text: text}
}

func (p *StaticProvider) Context() (string, error) {
	return p.text, nil
}

// FromFile loads a description file into a StaticProvider. An empty path
// yields the embedded default.
func FromFile(path string) (*StaticProvider, error) {
	if path == "" {
		return NewStaticProvider(""), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema description: %w", err)
	}
	return NewStaticProvider(string(data)), nil
}

var _ Provider = (*StaticProvider)(nil)
