package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFence(t *testing.T) {
	t.Run("去掉 json 围栏", func(t *testing.T) {
		raw := "```json\n{\"a\": 1}\n```"
		assert.Equal(t, `{"a": 1}`, stripCodeFence(raw))
	})

	t.Run("去掉无语言标记的围栏", func(t *testing.T) {
		raw := "```\n{\"a\": 1}\n```"
		assert.Equal(t, `{"a": 1}`, stripCodeFence(raw))
	})

	t.Run("无围栏时原样返回", func(t *testing.T) {
		assert.Equal(t, `{"a": 1}`, stripCodeFence(` {"a": 1} `))
	})
}

func TestRepairJSON(t *testing.T) {
	t.Run("尾逗号", func(t *testing.T) {
		repaired := repairJSON(`{"trucks": [{"city": "Dallas"},]}`)
		assert.True(t, json.Valid([]byte(repaired)), repaired)
	})

	t.Run("未加引号的键", func(t *testing.T) {
		repaired := repairJSON(`{customer: "Acme", trucks: []}`)
		assert.True(t, json.Valid([]byte(repaired)), repaired)

		var out map[string]any
		require.NoError(t, json.Unmarshal([]byte(repaired), &out))
		assert.Equal(t, "Acme", out["customer"])
	})

	t.Run("弯引号归一化", func(t *testing.T) {
		repaired := repairJSON(`{“customer”: “Acme”}`)
		assert.True(t, json.Valid([]byte(repaired)), repaired)
	})

	t.Run("截断的数组补齐右括号", func(t *testing.T) {
		repaired := repairJSON(`{"customer": "Acme", "trucks": [{"city": "Dallas"}, {"city": "Austi`)
		assert.True(t, json.Valid([]byte(repaired)), repaired)
	})

	t.Run("围栏加说明文字", func(t *testing.T) {
		raw := "Here is the extraction:\n```json\n{\"customer\": \"Acme\", \"trucks\": []}\n```"
		repaired := repairJSON(raw)
		assert.True(t, json.Valid([]byte(repaired)), repaired)
	})
}

func TestTruncateBalanced(t *testing.T) {
	t.Run("截断到最后配平处", func(t *testing.T) {
		out := truncateBalanced(`{"a": 1} trailing garbage`)
		assert.Equal(t, `{"a": 1}`, out)
	})

	t.Run("字符串内的括号不计深度", func(t *testing.T) {
		out := truncateBalanced(`{"a": "}{"} extra`)
		assert.Equal(t, `{"a": "}{"}`, out)
	})

	t.Run("从未配平时补齐", func(t *testing.T) {
		out := truncateBalanced(`{"a": [1, 2,`)
		assert.True(t, json.Valid([]byte(out)), out)
	})

	t.Run("无括号原样返回", func(t *testing.T) {
		assert.Equal(t, "plain text", truncateBalanced("plain text"))
	})
}
