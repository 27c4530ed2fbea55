package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockscout/stockscout/internal/catalog"
)

const listingHTML = `
<html><body>
  <div class="product-item-image"><a href="/arrows/carbon-hunter/">Carbon Hunter</a></div>
  <div class="product-item-image"><a href="/arrows/spartan/">Spartan</a></div>
  <div class="product-item-image"><a href="/arrows/carbon-hunter/">Carbon Hunter again</a></div>
  <nav>
    <a class="listing-pagination-link" href="?page=1">1</a>
    <a class="listing-pagination-link" href="?page=2">2</a>
    <a class="listing-pagination-link" href="?page=3">3</a>
  </nav>
</body></html>`

const productHTML = `
<html><body>
  <a class="product-brand">Black Eagle</a>
  <h1>Carbon Hunter Arrows</h1>
  <span class="product-sku">CH-350</span>
  <span class="price--main">$129.99</span>
  <img class="product-main-image-slide" src="https://cdn.shop.example/ch.jpg">
  <select class="product-attribute-select" name="Spine">
    <option value="">Choose…</option>
    <option value="300">300</option>
    <option value="350">350</option>
  </select>
  <select class="product-attribute-select" name="Fletching">
    <option value="Left">Left</option>
    <option value="Right">Right</option>
  </select>
  <section id="description">
    <p>Our best selling <a href="/about">hunting</a> arrow.</p>
  </section>
</body></html>`

const unavailableHTML = `
<html><body>
  <h1>Sold Out Arrow</h1>
  <div class="product-add-to-cart form-field"><input type="submit" value="Unavailable"></div>
</body></html>`

func TestProductURLs(t *testing.T) {
	e := New()

	urls, err := e.ProductURLs(listingHTML, "https://shop.example/arrows/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://shop.example/arrows/carbon-hunter",
		"https://shop.example/arrows/spartan",
	}, urls)
}

func TestPageCount(t *testing.T) {
	e := New()

	count, err := e.PageCount(listingHTML)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestPageCountDefaultsToOne(t *testing.T) {
	e := New()

	count, err := e.PageCount(`<html><body><p>no pagination</p></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAxes(t *testing.T) {
	e := New()

	axes, err := e.Axes(productHTML)
	require.NoError(t, err)
	require.Len(t, axes, 2)

	assert.Equal(t, catalog.AttributeAxis{Name: "Spine", Options: []string{"300", "350"}}, axes[0])
	assert.Equal(t, catalog.AttributeAxis{Name: "Fletching", Options: []string{"Left", "Right"}}, axes[1])
}

func TestAxesNoneMeansImplicitSingleVariant(t *testing.T) {
	e := New()

	axes, err := e.Axes(`<html><body><h1>Plain product</h1></body></html>`)
	require.NoError(t, err)
	assert.Empty(t, axes)
	assert.Equal(t, 1, catalog.ExpectedVariants(axes))
}

func TestProductFields(t *testing.T) {
	e := New()

	fields, err := e.ProductFields(productHTML)
	require.NoError(t, err)
	assert.Equal(t, "Black Eagle", fields.Brand)
	assert.Equal(t, "Carbon Hunter Arrows", fields.Name)
	assert.Equal(t, "CH-350", fields.SKU)
	assert.Equal(t, "$129.99", fields.Price)
	assert.Equal(t, "https://cdn.shop.example/ch.jpg", fields.ImageURL)
	assert.Equal(t, "Our best selling hunting arrow.", fields.Description)
}

func TestCartRejected(t *testing.T) {
	e := New()

	rejected, err := e.CartRejected(`<html><body><div class="alertBox--error">We don't have that many.</div></body></html>`)
	require.NoError(t, err)
	assert.True(t, rejected)

	rejected, err = e.CartRejected(`<html><body><span>The selected quantity is not available.</span></body></html>`)
	require.NoError(t, err)
	assert.True(t, rejected)

	rejected, err = e.CartRejected(productHTML)
	require.NoError(t, err)
	assert.False(t, rejected)
}

func TestOutOfStock(t *testing.T) {
	e := New()

	marked, err := e.OutOfStock(unavailableHTML)
	require.NoError(t, err)
	assert.True(t, marked)

	marked, err = e.OutOfStock(productHTML)
	require.NoError(t, err)
	assert.False(t, marked)
}
