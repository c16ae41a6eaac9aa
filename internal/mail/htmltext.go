package mail

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var blankLinesRe = regexp.MustCompile(`\n{3,}`)

// StripHTML 将 HTML 正文转换为纯文本。
//
// 去掉 script/style 与引用回复块，块级元素转换为换行，
// 多余空行折叠。输入不是 HTML 时原样返回（仅做空白归一化）。
func StripHTML(body string) string {
	if !strings.Contains(body, "<") {
		return normalizeWhitespace(body)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return normalizeWhitespace(body)
	}

	doc.Find("script, style, head, blockquote.gmail_quote, div.gmail_quote").Remove()

	// 块级元素后补换行，避免相邻行粘连
	doc.Find("br").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml("\n")
	})
	doc.Find("p, div, tr, li, h1, h2, h3, h4").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	text := doc.Text()
	return normalizeWhitespace(text)
}

// normalizeWhitespace 归一化空白：去行尾空白、折叠连续空行。
func normalizeWhitespace(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	joined := strings.Join(lines, "\n")
	joined = blankLinesRe.ReplaceAllString(joined, "\n\n")
	return strings.TrimSpace(joined)
}
