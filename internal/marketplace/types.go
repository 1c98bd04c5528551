package marketplace

import "time"

// RawOrder is one order payload as returned by the marketplace. The payload
// shape varies by endpoint version, so it stays a loose map until the
// normalizer extracts canonical line tuples from it.
type RawOrder map[string]interface{}

// OrdersPage is one page of the order listing. Next is the provider-supplied
// continuation URL; pagination stops when it is empty.
type OrdersPage struct {
	Orders []RawOrder
	Next   string
}

// Window is the trailing [From, To] time range queried for recently modified
// orders. Overlap between consecutive runs is deliberate; the idempotency
// ledger absorbs redelivery.
type Window struct {
	From time.Time
	To   time.Time
}

// TrailingWindow returns the window ending now with the given width.
func TrailingWindow(width time.Duration) Window {
	now := time.Now().UTC()
	return Window{From: now.Add(-width), To: now}
}

// TokenResponse is the body of a successful token refresh exchange.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

type ordersResponse struct {
	Orders []RawOrder     `json:"orders"`
	Total  int            `json:"total"`
	Links  responseLinks  `json:"links"`
	Next   string         `json:"next"`
	Meta   map[string]any `json:"meta,omitempty"`
}

type responseLinks struct {
	Next string `json:"next"`
	Self string `json:"self"`
}
