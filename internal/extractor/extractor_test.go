package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `
<html><body>
<ul>
  <li class="product_wrapper">
    <a class="productClickItemV2"
       data-name="MSI GeForce RTX 4070 Ventus 3X OC 12GB"
       data-brand="MSI"
       data-price="549.99"
       href="/product/123/msi-rtx-4070">MSI GeForce RTX 4070</a>
    <p class="sku">SKU: 123456</p>
    <span class="inventoryCnt">
        25+
        IN STOCK
    </span>
    <img class="SearchResultProductImage" data-src="https://cdn.example.com/123.jpg" src="/placeholder.gif"/>
  </li>
  <li class="product_wrapper">
    <a class="productClickItemV2"
       data-name="Sapphire AMD Radeon RX 7800 XT Nitro+ 16GB"
       data-price="not-a-number"
       href="/product/456/sapphire-rx-7800-xt">Sapphire RX 7800 XT</a>
    <p class="sku">SKU: 654321</p>
    <div class="stock">Sold Out</div>
    <img class="SearchResultProductImage" src="https://cdn.example.com/456.jpg"/>
  </li>
</ul>
</body></html>`

func TestExtractSamplePage(t *testing.T) {
	items, err := Extract(samplePage)
	require.NoError(t, err)
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, "MSI GeForce RTX 4070 Ventus 3X OC 12GB", first.FullName)
	assert.Equal(t, "MSI", first.Brand)
	assert.Equal(t, 549.99, first.Price)
	assert.Equal(t, "123456", first.SKU)
	assert.Equal(t, "25+ IN STOCK", first.StockStatus)
	assert.Equal(t, "https://cdn.example.com/123.jpg", first.ImageURL)
	assert.Equal(t, "https://www.microcenter.com/product/123/msi-rtx-4070", first.ProductURL)

	second := items[1]
	assert.Equal(t, "Unknown", second.Brand, "missing data-brand defaults to Unknown")
	assert.Equal(t, 0.0, second.Price, "unparseable price defaults to zero")
	assert.Equal(t, "SOLD OUT", second.StockStatus, "direct-child div.stock is upper-cased")
	assert.Equal(t, "https://cdn.example.com/456.jpg", second.ImageURL, "src used when data-src absent")
}

func TestExtractSkipsIncompleteContainers(t *testing.T) {
	html := `
<ul>
  <li class="product_wrapper">
    <p class="sku">SKU: 111111</p>
  </li>
  <li class="product_wrapper">
    <a class="productClickItemV2" data-name="No SKU Card" data-brand="ASUS" data-price="99.99" href="/p/x"></a>
  </li>
  <li class="product_wrapper">
    <a class="productClickItemV2" data-name="Valid Card" data-brand="ASUS" data-price="199.99" href="/p/y"></a>
    <p class="sku">SKU: 222222</p>
  </li>
</ul>`

	items, err := Extract(html)
	require.NoError(t, err)
	require.Len(t, items, 1, "containers without name or sku are skipped, the rest survive")
	assert.Equal(t, "Valid Card", items[0].FullName)
	assert.Equal(t, "222222", items[0].SKU)
}

func TestExtractStockFallbacks(t *testing.T) {
	cases := []struct {
		name string
		html string
		want string
	}{
		{
			name: "inventory count wins over everything",
			html: `<li class="product_wrapper">` + validAnchor + skuTag +
				`<span class="inventoryCnt"> 3 IN STOCK </span><div class="stock">ignored</div></li>`,
			want: "3 IN STOCK",
		},
		{
			name: "nested stock div is not a direct child",
			html: `<li class="product_wrapper">` + validAnchor + skuTag +
				`<div class="wrap"><div class="stock">In Stock</div></div></li>`,
			want: "UNKNOWN",
		},
		{
			name: "sold out text anywhere in container",
			html: `<li class="product_wrapper">` + validAnchor + skuTag +
				`<div class="banner">sold out online</div></li>`,
			want: "SOLD OUT",
		},
		{
			name: "no stock information at all",
			html: `<li class="product_wrapper">` + validAnchor + skuTag + `</li>`,
			want: "UNKNOWN",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items, err := Extract(tc.html)
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, tc.want, items[0].StockStatus)
		})
	}
}

func TestExtractEmptyPage(t *testing.T) {
	items, err := Extract("<html><body><p>No results.</p></body></html>")
	require.NoError(t, err)
	assert.Empty(t, items)
}

const (
	validAnchor = `<a class="productClickItemV2" data-name="Card" data-brand="B" data-price="1.00" href="/p/1"></a>`
	skuTag      = `<p class="sku">SKU: 999999</p>`
)
