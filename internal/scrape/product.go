package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/playwright-community/playwright-go"

	"github.com/stockscout/stockscout/internal/browser"
	"github.com/stockscout/stockscout/internal/catalog"
	"github.com/stockscout/stockscout/internal/engine"
	"github.com/stockscout/stockscout/internal/extract"
	"github.com/stockscout/stockscout/internal/prober"
	"github.com/stockscout/stockscout/internal/ratelimit"
)

const (
	attributeSelectFormat = `select.product-attribute-select[name=%q]`
	quantityInput         = `input[name="quantity"]`
	addToCartButton       = `button.add-to-cart, input.add-to-cart`
	cartSettleMillis      = 2000
	selectSettleMillis    = 500
)

// Products opens isolated product sessions backed by playwright pages.
type Products struct {
	browser   *browser.Browser
	extractor *extract.Extractor
	limiter   *ratelimit.AdaptiveRateLimiter
	logger    *slog.Logger
}

func NewProducts(b *browser.Browser, e *extract.Extractor, limiter *ratelimit.AdaptiveRateLimiter) *Products {
	return &Products{
		browser:   b,
		extractor: e,
		limiter:   limiter,
		logger:    slog.Default().With("component", "product_client"),
	}
}

// Open navigates a fresh session to the product page and extracts the data
// the engine needs up front: fields and attribute axes.
func (p *Products) Open(ctx context.Context, productURL string) (engine.ProductSession, error) {
	session, err := p.browser.NewSession()
	if err != nil {
		return nil, err
	}

	page := session.Page()
	if err := p.browser.NavigateWithRetry(page, productURL, navigationRetries); err != nil {
		session.Close()
		return nil, err
	}

	html, err := page.Content()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to read product page: %w", err)
	}

	fields, err := p.extractor.ProductFields(html)
	if err != nil {
		session.Close()
		return nil, err
	}
	axes, err := p.extractor.Axes(html)
	if err != nil {
		session.Close()
		return nil, err
	}

	p.logger.Debug("product session opened", "url", productURL, "axes", len(axes))

	return &productSession{
		session:   session,
		browser:   p.browser,
		extractor: p.extractor,
		limiter:   p.limiter,
		url:       productURL,
		fields:    fields,
		axes:      axes,
		logger:    p.logger,
	}, nil
}

type productSession struct {
	session   *browser.Session
	browser   *browser.Browser
	extractor *extract.Extractor
	limiter   *ratelimit.AdaptiveRateLimiter
	url       string
	fields    catalog.ProductFields
	axes      []catalog.AttributeAxis
	current   []catalog.Selection
	logger    *slog.Logger
}

func (s *productSession) Fields() catalog.ProductFields { return s.fields }
func (s *productSession) Axes() []catalog.AttributeAxis { return s.axes }
func (s *productSession) Close() error                  { return s.session.Close() }

// Select drives the attribute dropdowns into the given combination.
func (s *productSession) Select(ctx context.Context, selections []catalog.Selection) error {
	if err := s.applySelections(ctx, selections); err != nil {
		return err
	}
	s.current = selections
	return nil
}

func (s *productSession) applySelections(ctx context.Context, selections []catalog.Selection) error {
	page := s.session.Page()

	for _, sel := range selections {
		if err := ctx.Err(); err != nil {
			return err
		}

		locator := page.Locator(fmt.Sprintf(attributeSelectFormat, sel.Axis))
		if _, err := locator.SelectOption(playwright.SelectOptionValues{
			Values: &[]string{sel.Value},
		}); err != nil {
			return fmt.Errorf("failed to select %s=%s: %w", sel.Axis, sel.Value, err)
		}
		// Let the storefront swap price/stock state for the selection.
		page.WaitForTimeout(selectSettleMillis)
	}

	return nil
}

func (s *productSession) OutOfStock(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	html, err := s.session.Page().Content()
	if err != nil {
		return false, fmt.Errorf("failed to read page for stock marker: %w", err)
	}
	return s.extractor.OutOfStock(html)
}

// TryQuantity is the cart-add oracle: fill the quantity field, click add to
// cart and read the page's verdict. Page-level failures come back as
// Transient so the prober's bounded retry owns the policy; the page is
// reloaded first so the retry starts from clean state.
func (s *productSession) TryQuantity(ctx context.Context, n int) (prober.Result, error) {
	if err := ctx.Err(); err != nil {
		return prober.Unavailable, err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return prober.Unavailable, err
	}

	page := s.session.Page()

	if err := page.Locator(quantityInput).Fill(strconv.Itoa(n)); err != nil {
		return s.transient(fmt.Errorf("failed to fill quantity: %w", err))
	}
	if err := page.Locator(addToCartButton).First().Click(); err != nil {
		return s.transient(fmt.Errorf("failed to click add to cart: %w", err))
	}

	// The verdict arrives via an async cart response.
	page.WaitForTimeout(cartSettleMillis)

	html, err := page.Content()
	if err != nil {
		return s.transient(fmt.Errorf("failed to read page after cart add: %w", err))
	}

	rejected, err := s.extractor.CartRejected(html)
	if err != nil {
		return s.transient(err)
	}

	s.limiter.RecordSuccess()
	if rejected {
		return prober.Unavailable, nil
	}
	return prober.Available, nil
}

// transient reloads the page and reapplies the current selection so the
// next attempt starts fresh, records the error for adaptive pacing and
// reports the call as retryable.
func (s *productSession) transient(cause error) (prober.Result, error) {
	s.logger.Warn("transient cart-oracle failure", "url", s.url, "error", cause)
	s.limiter.RecordError()

	if err := s.browser.NavigateWithRetry(s.session.Page(), s.url, 1); err != nil {
		s.logger.Warn("failed to reload page after transient failure", "url", s.url, "error", err)
	} else if err := s.applySelections(context.Background(), s.current); err != nil {
		s.logger.Warn("failed to reapply selection after reload", "url", s.url, "error", err)
	}
	return prober.Transient, nil
}
