package classifier

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxModelNameLen 是 model_name 列允许的最大长度，超出时截断到 99 个字符。
const maxModelNameLen = 99

// Details 是从商品全名解析出的显卡结构化信息。
type Details struct {
	Brand        string // 品牌（板卡厂商，如 MSI、ASUS）
	Manufacturer string // 芯片厂商: NVIDIA / AMD / Intel / Unknown
	ModelName    string // 型号（如 "GeForce RTX 5070 Ti"）
}

// manufacturers 按优先级排列的芯片厂商候选，命中第一个即停止。
var manufacturers = []string{"NVIDIA", "AMD", "Intel"}

// familyKeywords 按优先级排列的产品系列关键词。
//
// 命中后从关键词出现处取 3 个词作为型号，若词串里含独立的 "Ti" 或
// "XT" 变体后缀则取 4 个词。
var familyKeywords = []string{"GeForce RTX", "Radeon RX", "Intel Arc"}

// Classify 从商品全名与品牌提示推断显卡的品牌、芯片厂商和型号。
//
// 纯函数：相同输入永远返回相同输出，不访问任何外部状态。解析是
// 启发式的，解析失败时型号回退为商品全名本身（必要时截断），
// 绝不返回错误。
//
// 参数:
//
//	fullName: 抓取到的商品全名
//	brandHint: 列表页标注的品牌，空串按 "Unknown" 处理
//
// 返回值:
//
//	Details: 解析结果，ModelName 保证不超过 99 个字符
func Classify(fullName, brandHint string) Details {
	brand := strings.TrimSpace(brandHint)
	if brand == "" {
		brand = "Unknown"
	}

	d := Details{
		Brand:        brand,
		Manufacturer: "Unknown",
		ModelName:    fullName,
	}

	lower := strings.ToLower(fullName)
	for _, manu := range manufacturers {
		if strings.Contains(lower, strings.ToLower(manu)) {
			d.Manufacturer = manu
			break
		}
	}

	found := false
	for _, keyword := range familyKeywords {
		idx := indexFold(fullName, keyword)
		if idx < 0 {
			continue
		}
		// 关键词匹配不区分大小写，但型号保留原始大小写
		parts := strings.Fields(fullName[idx:])
		n := 3
		if containsToken(parts, "Ti") || containsToken(parts, "XT") {
			n = 4
		}
		if len(parts) > n {
			parts = parts[:n]
		}
		d.ModelName = strings.Join(parts, " ")
		found = true
		break
	}

	// 无系列关键词的超长名称：剥掉品牌和厂商后取前 4 个词
	if !found && len([]rune(fullName)) > 100 {
		tmp := strings.TrimSpace(strings.ReplaceAll(fullName, d.Brand, ""))
		tmp = strings.TrimSpace(strings.ReplaceAll(tmp, d.Manufacturer, ""))
		parts := strings.Fields(tmp)
		if len(parts) > 4 {
			parts = parts[:4]
		}
		d.ModelName = strings.Join(parts, " ")
	}

	d.ModelName = Truncate(d.ModelName)
	return d
}

// Truncate 将型号截断到列宽允许的 99 个字符以内。
func Truncate(modelName string) string {
	runes := []rune(modelName)
	if len(runes) > maxModelNameLen {
		return string(runes[:maxModelNameLen])
	}
	return modelName
}

// indexFold 返回 substr 在 s 中第一次不区分大小写出现的字节偏移，
// 未出现时返回 -1。
//
// 逐 rune 比较而不是先整体小写再查找：大小写转换会改变部分 rune 的
// UTF-8 编码长度，小写副本里的偏移不能用来切原串。
func indexFold(s, substr string) int {
	for i := range s {
		if hasPrefixFold(s[i:], substr) {
			return i
		}
	}
	return -1
}

func hasPrefixFold(s, prefix string) bool {
	for _, want := range prefix {
		r, size := utf8.DecodeRuneInString(s)
		if size == 0 {
			return false
		}
		if unicode.ToLower(r) != unicode.ToLower(want) {
			return false
		}
		s = s[size:]
	}
	return true
}

func containsToken(parts []string, token string) bool {
	for _, p := range parts {
		if p == token {
			return true
		}
	}
	return false
}
