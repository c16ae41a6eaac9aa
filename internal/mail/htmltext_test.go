package mail

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripHTML(t *testing.T) {
	t.Run("纯文本原样返回", func(t *testing.T) {
		assert.Equal(t, "Dallas, TX\nAustin, TX", StripHTML("Dallas, TX\nAustin, TX"))
	})

	t.Run("标签剥离", func(t *testing.T) {
		got := StripHTML("<html><body><p>Dallas, TX</p><p>Austin, TX</p></body></html>")
		assert.Contains(t, got, "Dallas, TX")
		assert.Contains(t, got, "Austin, TX")
		assert.NotContains(t, got, "<")
	})

	t.Run("br 转换为换行", func(t *testing.T) {
		got := StripHTML("<div>Dallas, TX<br>Austin, TX</div>")
		assert.Contains(t, got, "Dallas, TX\nAustin, TX")
	})

	t.Run("script 与 style 移除", func(t *testing.T) {
		got := StripHTML(`<html><head><style>p{color:red}</style></head><body><script>alert(1)</script><p>Dallas, TX</p></body></html>`)
		assert.NotContains(t, got, "alert")
		assert.NotContains(t, got, "color")
		assert.Contains(t, got, "Dallas, TX")
	})

	t.Run("引用回复块移除", func(t *testing.T) {
		got := StripHTML(`<div><p>Dallas, TX</p><div class="gmail_quote">On Mon, someone wrote: old list</div></div>`)
		assert.Contains(t, got, "Dallas, TX")
		assert.NotContains(t, got, "old list")
	})

	t.Run("表格行各占一行", func(t *testing.T) {
		got := StripHTML("<table><tr><td>Dallas, TX</td></tr><tr><td>Austin, TX</td></tr></table>")
		assert.Contains(t, got, "Dallas, TX")
		assert.Contains(t, got, "Austin, TX")
		assert.NotContains(t, got, "Dallas, TXAustin")
	})

	t.Run("多余空行折叠", func(t *testing.T) {
		got := StripHTML("Dallas, TX\n\n\n\n\nAustin, TX")
		assert.Equal(t, "Dallas, TX\n\nAustin, TX", got)
	})
}
