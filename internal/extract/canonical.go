package extract

import (
	"regexp"
	"strings"
)

// cityAliases 城市别名表：规范键 "city|STATE" -> 首选拼写。
//
// 键由 aliasKey 生成（小写、去句点与撇号、折叠空白），
// 同名城市按州区分（如 GA 的 LaGrange 与 KY 的 La Grange 拼写不同）。
var cityAliases = map[string]string{
	"lagrange|GA":    "LaGrange",
	"la grange|GA":   "LaGrange",
	"lagrange|KY":    "La Grange",
	"la grange|KY":   "La Grange",
	"st marys|OH":    "St. Marys",
	"saint marys|OH": "St. Marys",
	"st marys|GA":    "St. Marys",
	"saint marys|GA": "St. Marys",
	"ft wayne|IN":    "Fort Wayne",
	"fort wayne|IN":  "Fort Wayne",
	"ft worth|TX":    "Fort Worth",
	"fort worth|TX":  "Fort Worth",
	"kc|MO":          "Kansas City",
	"kansas city|MO": "Kansas City",
	"kc|KS":          "Kansas City",
	"kansas city|KS": "Kansas City",
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// aliasKey 生成别名表查询键：小写、去句点与撇号、折叠空白。
func aliasKey(city, state string) string {
	city = strings.ToLower(strings.TrimSpace(city))
	city = strings.ReplaceAll(city, ".", "")
	city = strings.ReplaceAll(city, "'", "")
	city = strings.ReplaceAll(city, "’", "")
	city = whitespaceRe.ReplaceAllString(city, " ")
	return city + "|" + state
}

// Canonicalize 规范化城市名与州码。
//
// 州码去空白并转大写；城市名命中别名表时替换为首选拼写，
// 未命中时保留原文（仅去空白、折叠空白）。对已规范化的输入幂等。
func Canonicalize(city, state string) (string, string) {
	state = strings.ToUpper(strings.TrimSpace(state))
	city = whitespaceRe.ReplaceAllString(strings.TrimSpace(city), " ")

	if canonical, ok := cityAliases[aliasKey(city, state)]; ok {
		return canonical, state
	}
	return city, state
}
