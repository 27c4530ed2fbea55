package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/stockscout/stockscout/internal/catalog"
)

// Extractor pulls structured data out of rendered storefront markup. It is
// the only place that knows the site's selectors; the engine never touches
// raw HTML.
type Extractor struct {
	digits *regexp.Regexp
}

func New() *Extractor {
	return &Extractor{
		digits: regexp.MustCompile(`\d+`),
	}
}

func parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// ProductURLs returns the normalized product URLs linked from a listing
// page, in document order, duplicates removed.
func (e *Extractor) ProductURLs(html, baseURL string) ([]string, error) {
	doc, err := parse(html)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var urls []string
	doc.Find("div.product-item-image a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		u := catalog.NormalizeURL(baseURL, href)
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	})
	return urls, nil
}

// PageCount returns the listing's total page count from its pagination
// links, defaulting to 1 when no pagination is present.
func (e *Extractor) PageCount(html string) (int, error) {
	doc, err := parse(html)
	if err != nil {
		return 0, err
	}

	max := 1
	doc.Find("a.listing-pagination-link").Each(func(_ int, sel *goquery.Selection) {
		for _, m := range e.digits.FindAllString(sel.Text(), -1) {
			if n, err := strconv.Atoi(m); err == nil && n > max {
				max = n
			}
		}
	})
	return max, nil
}

// Axes returns the product's selectable attribute axes in page order, with
// each axis's options in control order. Placeholder options with empty
// values are skipped.
func (e *Extractor) Axes(html string) ([]catalog.AttributeAxis, error) {
	doc, err := parse(html)
	if err != nil {
		return nil, err
	}

	var axes []catalog.AttributeAxis
	doc.Find("select.product-attribute-select").Each(func(i int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		if name == "" {
			name = fmt.Sprintf("attribute-%d", i+1)
		}

		axis := catalog.AttributeAxis{Name: name}
		sel.Find("option").Each(func(_ int, opt *goquery.Selection) {
			value, _ := opt.Attr("value")
			if strings.TrimSpace(value) == "" {
				return
			}
			axis.Options = append(axis.Options, value)
		})
		axes = append(axes, axis)
	})
	return axes, nil
}

// ProductFields extracts the descriptive fields attached to every stock
// record for this product.
func (e *Extractor) ProductFields(html string) (catalog.ProductFields, error) {
	doc, err := parse(html)
	if err != nil {
		return catalog.ProductFields{}, err
	}

	fields := catalog.ProductFields{
		SKU:   strings.TrimSpace(doc.Find("span.product-sku").First().Text()),
		Brand: strings.TrimSpace(doc.Find("a.product-brand").First().Text()),
		Name:  strings.TrimSpace(doc.Find("h1").First().Text()),
		Price: strings.TrimSpace(doc.Find("span.price--main").First().Text()),
	}

	if src, ok := doc.Find("img.product-main-image-slide").First().Attr("src"); ok {
		fields.ImageURL = strings.TrimSpace(src)
	}

	if desc := doc.Find("section#description").First(); desc.Length() > 0 {
		fields.Description = e.stripLinks(desc)
	}

	return fields, nil
}

// OutOfStock reports the page's explicit unavailability marker, the cheap
// short circuit that makes probing unnecessary.
func (e *Extractor) OutOfStock(html string) (bool, error) {
	doc, err := parse(html)
	if err != nil {
		return false, err
	}
	marked := doc.Find(`div.product-add-to-cart input[value="Unavailable"]`).Length() > 0
	return marked, nil
}

// CartRejected reports whether the page shows a cart-add rejection after an
// add-to-cart attempt: an error/alert box or an explicit "not available"
// message.
func (e *Extractor) CartRejected(html string) (bool, error) {
	doc, err := parse(html)
	if err != nil {
		return false, err
	}

	if doc.Find("div.alertBox--error, div.form-inlineMessage--error").Length() > 0 {
		return true, nil
	}

	rejected := false
	doc.Find("span").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(sel.Text()), "not available") {
			rejected = true
			return false
		}
		return true
	})
	return rejected, nil
}

// stripLinks flattens anchors in the description to their text so the
// captured copy carries no hyperlinks.
func (e *Extractor) stripLinks(sel *goquery.Selection) string {
	sel.Find("a").Each(func(_ int, a *goquery.Selection) {
		a.ReplaceWithHtml(a.Text())
	})
	text := strings.TrimSpace(sel.Text())
	return strings.Join(strings.Fields(text), " ")
}
