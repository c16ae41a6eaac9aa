package extract

import (
	"regexp"
	"strings"
)

// 结构修复工具：对文本理解服务返回的近似 JSON 做逐步手术，
// 使其能够通过标准解析。修复顺序与调用方式见 normalizer.go 的二级恢复。

var (
	codeFenceRe     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
)

// smartQuoteReplacer 将各类弯引号归一化为直引号。
var smartQuoteReplacer = strings.NewReplacer(
	"“", `"`, // 左双弯引号
	"”", `"`, // 右双弯引号
	"‘", "'", // 左单弯引号
	"’", "'", // 右单弯引号
)

// stripCodeFence 去掉模型输出常见的 ``` 围栏，返回围栏内的内容。
//
// 没有围栏时原样返回。
func stripCodeFence(raw string) string {
	if m := codeFenceRe.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return strings.TrimSpace(raw)
}

// repairJSON 对无法严格解析的文本做结构修复。
//
// 依次执行：
//  1. 归一化引号字符
//  2. 给未加引号的键补引号
//  3. 去掉括号前的尾逗号
//  4. 截断到最后一个括号配平的位置（丢弃被截断的尾部）
func repairJSON(raw string) string {
	s := stripCodeFence(raw)
	s = smartQuoteReplacer.Replace(s)
	s = unquotedKeyRe.ReplaceAllString(s, `$1"$2":`)
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	return truncateBalanced(s)
}

// truncateBalanced 截断到最后一个括号配平处。
//
// 从第一个 '{' 或 '[' 开始扫描，跟踪括号深度（忽略字符串内部的
// 括号），记录最后一次深度归零的位置并在此截断。
// 如果从未配平，补齐缺失的右括号。
func truncateBalanced(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	s = s[start:]

	var stack []byte
	inString := false
	escaped := false
	lastBalanced := -1

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				stack = append(stack, c)
			}
		case '}', ']':
			if !inString && len(stack) > 0 {
				open := stack[len(stack)-1]
				if (open == '{' && c == '}') || (open == '[' && c == ']') {
					stack = stack[:len(stack)-1]
					if len(stack) == 0 {
						lastBalanced = i
					}
				}
			}
		}
	}

	if lastBalanced >= 0 {
		return s[:lastBalanced+1]
	}

	// 从未配平：去掉悬空的尾部字符串与逗号后补齐右括号
	trimmed := strings.TrimRight(s, ", \t\r\n")
	if inString {
		trimmed += `"`
	}
	var closers []byte
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			closers = append(closers, '}')
		} else {
			closers = append(closers, ']')
		}
	}
	trimmed = trailingCommaRe.ReplaceAllString(trimmed+string(closers), "$1")
	return trimmed
}
