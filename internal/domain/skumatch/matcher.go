// Package skumatch resolves a free-text SKU to a catalog product for the
// manual mapping workflow. It is deliberately separate from the pipeline's
// mapping-table resolver: this matcher proposes candidates for a human to
// confirm, it never feeds the stock decrement directly.
//
// Matching runs in three tiers, stopping at the first non-empty result:
//
//  1. exact match against {raw, uppercased, uppercased with leading zeros
//     stripped}
//  2. separator-tolerant partial match (hyphens, underscores and whitespace
//     treated as wildcards)
//  3. no-separator partial match (all separators stripped from both sides)
//
// When a partial tier yields several candidates, parent-level products are
// preferred. If more than one parent-level candidate remains the match is
// ambiguous and all candidates are surfaced for manual disambiguation.
package skumatch

import (
	"regexp"
	"strings"
)

// Product is the catalog view the matcher needs. A nil ParentID marks a
// parent-level product.
type Product struct {
	ID       int64  `json:"id"`
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

// Result is the outcome of a match attempt.
type Result struct {
	// Product is the single resolved product, nil when nothing matched or
	// the match is ambiguous.
	Product *Product

	// Ambiguous is true when several candidates survived the tie-break.
	// Candidates then holds everything the caller should surface.
	Ambiguous  bool
	Candidates []Product

	// Tier records which tier produced the result: 1, 2 or 3. Zero when
	// nothing matched.
	Tier int
}

var separators = regexp.MustCompile(`[-_\s]+`)

// Match resolves query against the catalog.
func Match(products []Product, query string) Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}
	}

	if cands := exactCandidates(products, query); len(cands) > 0 {
		return pick(cands, 1)
	}
	if cands := separatorTolerantCandidates(products, query); len(cands) > 0 {
		return pick(cands, 2)
	}
	if cands := strippedCandidates(products, query); len(cands) > 0 {
		return pick(cands, 3)
	}

	return Result{}
}

// exactCandidates matches tier 1: the raw query, its uppercase form, and the
// uppercase form with leading zeros stripped.
func exactCandidates(products []Product, query string) []Product {
	upper := strings.ToUpper(query)
	variants := map[string]bool{
		query:                    true,
		upper:                    true,
		stripLeadingZeros(upper): true,
	}

	var cands []Product
	for _, p := range products {
		if variants[p.SKU] || variants[strings.ToUpper(p.SKU)] {
			cands = append(cands, p)
		}
	}
	return cands
}

// separatorTolerantCandidates matches tier 2: separators in the query act as
// wildcards, so "AB-12" finds "AB 12", "AB_12" and "AB/XX/12".
func separatorTolerantCandidates(products []Product, query string) []Product {
	parts := separators.Split(strings.ToUpper(query), -1)
	quoted := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(part))
	}
	if len(quoted) == 0 {
		return nil
	}

	pattern, err := regexp.Compile(strings.Join(quoted, ".*"))
	if err != nil {
		return nil
	}

	var cands []Product
	for _, p := range products {
		if pattern.MatchString(strings.ToUpper(p.SKU)) {
			cands = append(cands, p)
		}
	}
	return cands
}

// strippedCandidates matches tier 3: all separators removed from both sides,
// then substring containment either way.
func strippedCandidates(products []Product, query string) []Product {
	q := stripSeparators(strings.ToUpper(query))
	if q == "" {
		return nil
	}

	var cands []Product
	for _, p := range products {
		sku := stripSeparators(strings.ToUpper(p.SKU))
		if sku == "" {
			continue
		}
		if strings.Contains(sku, q) || strings.Contains(q, sku) {
			cands = append(cands, p)
		}
	}
	return cands
}

// pick applies the parent-preference tie-break. With zero parent-level
// candidates among several matches the result stays ambiguous with all
// candidates surfaced: ask, don't guess.
func pick(cands []Product, tier int) Result {
	if len(cands) == 1 {
		p := cands[0]
		return Result{Product: &p, Tier: tier}
	}

	var parents []Product
	for _, c := range cands {
		if c.ParentID == nil {
			parents = append(parents, c)
		}
	}

	if len(parents) == 1 {
		p := parents[0]
		return Result{Product: &p, Tier: tier}
	}
	if len(parents) > 1 {
		return Result{Ambiguous: true, Candidates: parents, Tier: tier}
	}
	return Result{Ambiguous: true, Candidates: cands, Tier: tier}
}

func stripLeadingZeros(s string) string {
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" && s != "" {
		return "0"
	}
	return trimmed
}

func stripSeparators(s string) string {
	return separators.ReplaceAllString(s, "")
}
