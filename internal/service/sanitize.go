package service

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var stripPolicy = bluemonday.StrictPolicy()

// UnescapeNewlines 将字面量 "\n" 还原为换行
func UnescapeNewlines(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}

// StripTags 去除 HTML 标签，保留文本。
// bluemonday 会转义输出中的实体，这里再反转义一次得到纯文本。
func StripTags(s string) string {
	return html.UnescapeString(stripPolicy.Sanitize(s))
}
