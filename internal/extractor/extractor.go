package extractor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// baseProductURL 是商品详情页相对链接的前缀。
const baseProductURL = "https://www.microcenter.com"

// RawItem 是从一个搜索结果商品卡片中提取出的原始字段。
//
// 字段保持页面上的原始内容，分类与清洗由后续阶段处理。
type RawItem struct {
	FullName    string  // 商品全名 (data-name)
	Brand       string  // 品牌标注 (data-brand)，缺失时为 "Unknown"
	Price       float64 // 标价 (data-price)，解析失败时为 0
	SKU         string  // 零售商 SKU 编码
	StockStatus string  // 原始库存文本，无法判断时为 "UNKNOWN"
	ImageURL    string  // 商品图链接
	ProductURL  string  // 商品详情页完整链接
}

// Extract 从渲染后的搜索结果页 HTML 中提取商品条目。
//
// 每个 li.product_wrapper 容器独立解析：缺少商品名或 SKU 的容器被
// 跳过，单个容器解析出错不影响其余容器。HTML 本身不可解析时返回错误。
func Extract(html string) ([]RawItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse search results html: %w", err)
	}

	var items []RawItem
	doc.Find("li.product_wrapper").Each(func(_ int, container *goquery.Selection) {
		item, ok := extractOne(container)
		if !ok {
			return
		}
		items = append(items, item)
	})

	return items, nil
}

// extractOne 解析单个商品容器，字段不完整时返回 ok=false。
func extractOne(container *goquery.Selection) (RawItem, bool) {
	link := container.Find("a.productClickItemV2").First()
	if link.Length() == 0 {
		return RawItem{}, false
	}

	name := strings.TrimSpace(link.AttrOr("data-name", ""))
	sku := extractSKU(container)
	if name == "" || sku == "" {
		return RawItem{}, false
	}

	brand := strings.TrimSpace(link.AttrOr("data-brand", ""))
	if brand == "" {
		brand = "Unknown"
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(link.AttrOr("data-price", "")), 64)
	if err != nil {
		price = 0
	}

	productURL := ""
	if href, ok := link.Attr("href"); ok && href != "" {
		productURL = baseProductURL + href
	}

	return RawItem{
		FullName:    name,
		Brand:       brand,
		Price:       price,
		SKU:         sku,
		StockStatus: extractStock(container),
		ImageURL:    extractImage(container),
		ProductURL:  productURL,
	}, true
}

func extractSKU(container *goquery.Selection) string {
	el := container.Find("p.sku").First()
	if el.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(strings.ReplaceAll(el.Text(), "SKU:", ""))
}

// extractStock 按优先级推断库存文本:
// span.inventoryCnt > 直接子级 div.stock > 容器文本含 "SOLD OUT" > "UNKNOWN"。
func extractStock(container *goquery.Selection) string {
	if el := container.Find("span.inventoryCnt").First(); el.Length() > 0 {
		return strings.Join(strings.Fields(el.Text()), " ")
	}
	if el := container.ChildrenFiltered("div.stock").First(); el.Length() > 0 {
		return strings.ToUpper(strings.TrimSpace(el.Text()))
	}
	if strings.Contains(strings.ToUpper(container.Text()), "SOLD OUT") {
		return "SOLD OUT"
	}
	return "UNKNOWN"
}

func extractImage(container *goquery.Selection) string {
	el := container.Find("img.SearchResultProductImage").First()
	if el.Length() == 0 {
		return ""
	}
	if v, ok := el.Attr("data-src"); ok && v != "" {
		return v
	}
	return el.AttrOr("src", "")
}
