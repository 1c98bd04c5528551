package pipeline

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/stockpilot/marketplace-sync/internal/marketplace"
)

// Order payloads vary by endpoint version, so every concept is looked up
// through an ordered list of candidate field names: most specific first,
// alternates after, skip the line when none is present. This is the single
// normalization boundary; everything downstream only ever sees OrderLine.
var (
	orderIDFields  = []string{"id_order", "order_id", "id"}
	lineListFields = []string{"order_units", "order_lines", "lines", "items"}
	lineIDFields   = []string{"id_order_unit", "id_order_line", "line_id", "id"}
	skuFields      = []string{"offer_sku", "seller_sku", "sku"}
	quantityFields = []string{"quantity", "qty", "amount"}
)

// NormalizeOrder extracts canonical line tuples from one raw order payload.
// Lines missing an order id, line id or SKU, or with a non-positive
// quantity, are dropped silently: malformed upstream data is not an error.
func NormalizeOrder(raw marketplace.RawOrder) []OrderLine {
	orderID := stringField(map[string]interface{}(raw), orderIDFields)

	var lines []OrderLine
	for _, entry := range lineEntries(raw) {
		line := OrderLine{
			OrderID:  orderID,
			LineID:   stringField(entry, lineIDFields),
			SKU:      stringField(entry, skuFields),
			Quantity: intField(entry, quantityFields),
		}

		// Some payload versions repeat the order id per line; prefer it
		// when the top level had none.
		if line.OrderID == "" {
			line.OrderID = stringField(entry, orderIDFields)
		}

		if line.OrderID == "" || line.LineID == "" || line.SKU == "" || line.Quantity <= 0 {
			continue
		}
		lines = append(lines, line)
	}

	return lines
}

// Dedupe drops repeat (order, line) tuples within one run, first occurrence
// wins. This is an optimization only; the ledger is the authoritative dedupe.
func Dedupe(lines []OrderLine) []OrderLine {
	seen := make(map[string]bool, len(lines))
	out := lines[:0:0]

	for _, line := range lines {
		key := line.OrderID + "\x00" + line.LineID
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, line)
	}

	return out
}

// lineEntries finds the line container and returns its object entries.
func lineEntries(raw marketplace.RawOrder) []map[string]interface{} {
	for _, field := range lineListFields {
		value, ok := raw[field]
		if !ok {
			continue
		}
		list, ok := value.([]interface{})
		if !ok {
			continue
		}

		var entries []map[string]interface{}
		for _, item := range list {
			if entry, ok := item.(map[string]interface{}); ok {
				entries = append(entries, entry)
			}
		}
		return entries
	}
	return nil
}

// stringField returns the first non-blank candidate field as a string.
// Numeric ids are rendered without an exponent.
func stringField(entry map[string]interface{}, candidates []string) string {
	for _, field := range candidates {
		value, ok := entry[field]
		if !ok || value == nil {
			continue
		}

		switch v := value.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		}
	}
	return ""
}

// intField returns the first parseable candidate field as an int, 0 when no
// candidate parses.
func intField(entry map[string]interface{}, candidates []string) int {
	for _, field := range candidates {
		value, ok := entry[field]
		if !ok || value == nil {
			continue
		}

		switch v := value.(type) {
		case float64:
			return int(v)
		case int:
			return v
		case int64:
			return int(v)
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return int(n)
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return 0
}
