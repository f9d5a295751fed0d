package scraper

import "fmt"

// searchURLFormat 零售商显卡搜索页。N=4294966937 是显卡品类的过滤参数，
// rpp 控制单页商品数。
const searchURLFormat = "https://www.microcenter.com/search/search_results.aspx?N=4294966937&NTK=all&sortby=match&storeid=%s&rpp=%d&page=%d"

// BuildSearchURL 构造指定门店、指定页码的搜索结果页 URL。
func BuildSearchURL(retailerID string, pageSize, page int) string {
	return fmt.Sprintf(searchURLFormat, retailerID, pageSize, page)
}
