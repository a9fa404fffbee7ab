package intent

import "strings"

// Granularity is a reporting period cumulated from the start of the
// period to the reference date.
type Granularity string

const (
	MTD Granularity = "MTD"
	QTD Granularity = "QTD"
	YTD Granularity = "YTD"
)

// EntityType scopes a performance query to a class of entities. The codes
// match the warehouse's EntityType table: 3 for market indices, 1 for assets.
type EntityType int

const (
	EntityUnspecified EntityType = 0
	EntityAsset       EntityType = 1
	EntityIndex       EntityType = 3
)

func (e EntityType) String() string {
	switch e {
	case EntityAsset:
		return "Asset"
	case EntityIndex:
		return "Market Index"
	default:
		return "unspecified"
	}
}

// Summary describes which granularities and entity type a performance
// query targets.
type Summary struct {
	Granularities []Granularity
	Entity        EntityType
}

// String renders the summary for prompt context, e.g. "QTD (Market Index)".
func (s Summary) String() string {
	if len(s.Granularities) == 0 {
		return "unknown"
	}
	parts := make([]string, len(s.Granularities))
	for i, g := range s.Granularities {
		parts[i] = string(g)
	}
	return strings.Join(parts, ",") + " (" + s.Entity.String() + ")"
}

// Has reports whether the summary includes the given granularity.
func (s Summary) Has(g Granularity) bool {
	for _, have := range s.Granularities {
		if have == g {
			return true
		}
	}
	return false
}

// Resolver determines the reporting granularity for performance queries.
type Resolver interface {
	Resolve(query string) Summary
}

// KeywordResolver resolves granularity and entity type from query wording.
// When the query gives no period hint it falls back to all three
// granularities with the entity type unspecified, so downstream SQL
// generation requests all three date ranges instead of failing.
type KeywordResolver struct{}

// NewKeywordResolver returns a keyword-based Resolver.
func NewKeywordResolver() *KeywordResolver {
	return &KeywordResolver{}
}

func (r *KeywordResolver) Resolve(query string) Summary {
	q := strings.ToLower(query)

	var gs []Granularity
	if containsAny(q, "month-to-date", "mtd", "this month", "monthly", "for the month") {
		gs = append(gs, MTD)
	}
	if containsAny(q, "quarter-to-date", "qtd", "this quarter", "quarterly", "for the quarter") {
		gs = append(gs, QTD)
	}
	if containsAny(q, "year-to-date", "ytd", "this year", "annual", "for the year") {
		gs = append(gs, YTD)
	}
	if len(gs) == 0 {
		gs = []Granularity{MTD, QTD, YTD}
	}

	entity := EntityUnspecified
	switch {
	case containsAny(q, "index", "indices", "indexes"):
		entity = EntityIndex
	case containsAny(q, "asset", "assets", "fund", "funds"):
		entity = EntityAsset
	}

	return Summary{Granularities: gs, Entity: entity}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var _ Resolver = (*KeywordResolver)(nil)
