package catalog

import (
	"net/url"
	"strings"
	"time"
)

// Failure reason tags recorded in the failed-task ledger.
const (
	ReasonNavigation  = "navigation"
	ReasonExtraction  = "extraction"
	ReasonEnumeration = "enumeration"
	ReasonProbe       = "probe"
	ReasonPanic       = "panic"
)

// AttributeAxis is one selectable control on a product page, e.g. a size or
// color dropdown. Option order is the order the control presents them in.
type AttributeAxis struct {
	Name    string   `json:"name"`
	Options []string `json:"options"`
}

// Selection is one chosen option on one axis.
type Selection struct {
	Axis  string `json:"axis"`
	Value string `json:"value"`
}

// VariantKey identifies one purchasable attribute combination of a product.
// Selections are ordered to match the product's axis order; that order is
// part of the identity.
type VariantKey struct {
	ProductURL string      `json:"product_url"`
	Selections []Selection `json:"selections,omitempty"`
}

// String renders the stable string form used for dedup across runs:
// productURL|axis=value&axis=value in axis order.
func (k VariantKey) String() string {
	if len(k.Selections) == 0 {
		return k.ProductURL
	}

	var sb strings.Builder
	sb.WriteString(k.ProductURL)
	sb.WriteByte('|')
	for i, sel := range k.Selections {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(sel.Axis)
		sb.WriteByte('=')
		sb.WriteString(sel.Value)
	}
	return sb.String()
}

// ProductFields holds the page-extracted data attached to every stock
// record. Produced by the extraction collaborator, opaque to the core.
type ProductFields struct {
	SKU         string `json:"sku,omitempty"`
	Brand       string `json:"brand,omitempty"`
	Name        string `json:"name,omitempty"`
	Price       string `json:"price,omitempty"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// StockRecord is one completed observation of a variant's quantity.
// Immutable once written; a later run appends a new record for the same
// variant key instead of mutating this one.
type StockRecord struct {
	ID         string        `json:"id"`
	Key        string        `json:"key"`
	ProductURL string        `json:"product_url"`
	Selections []Selection   `json:"selections,omitempty"`
	Quantity   int           `json:"quantity"`
	ObservedAt time.Time     `json:"observed_at"`
	Fields     ProductFields `json:"fields"`
}

// FailedTask is one ledger entry for a task that raised. Its existence does
// not block the key from a later retry run.
type FailedTask struct {
	ID     string    `json:"id"`
	Key    string    `json:"key"`
	Reason string    `json:"reason"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// NormalizeURL canonicalizes a product URL for frontier dedup: resolves it
// against the page it was found on, drops fragments and trailing slashes.
func NormalizeURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}

	u, err := url.Parse(href)
	if err != nil {
		return ""
	}

	if base != "" {
		if b, err := url.Parse(base); err == nil {
			u = b.ResolveReference(u)
		}
	}

	u.Fragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String()
}
