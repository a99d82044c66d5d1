// Package splitter 将原始文档/代码文本切分为适合向量化的重叠窗口。
//
// 切分策略按优先级选择边界：段落（空行）优先，其次句子结束符，
// 两者都不存在时在窗口内硬切。软边界切分时下一块向前回退 overlap
// 个字符以保留语义上下文；硬切发生在任意字符中间，重复半个词没有
// 语义价值，因此硬切改为均衡切分、不做重叠，保证各块长度不超限。
package splitter

import (
	"path/filepath"
	"strings"
	"unicode/utf8"

	"vectrieve-go/internal/apperr"
	"vectrieve-go/internal/model"
)

// 代码文件按空行分隔的顶层声明块优先切分。
var codeExtensions = map[string]bool{
	".go":   true,
	".py":   true,
	".js":   true,
	".ts":   true,
	".java": true,
	".c":    true,
	".cpp":  true,
	".h":    true,
	".rs":   true,
	".rb":   true,
	".php":  true,
	".sh":   true,
	".sql":  true,
}

// 句子结束符，后面跟空白或文本结尾才视为句子边界。
var sentenceEnders = map[rune]bool{
	'.': true, '!': true, '?': true,
	'。': true, '！': true, '？': true, '…': true,
}

// Splitter 按配置的窗口大小与重叠量执行文本切分。
type Splitter struct {
	maxChunkChars int
	overlapChars  int
}

// New 创建一个 Splitter。overlap 会被收紧到 maxChunkChars/2 以内。
func New(maxChunkChars, overlapChars int) *Splitter {
	if maxChunkChars <= 0 {
		maxChunkChars = 1000
	}
	if overlapChars < 0 {
		overlapChars = 0
	}
	if overlapChars > maxChunkChars/2 {
		overlapChars = maxChunkChars / 2
	}
	return &Splitter{maxChunkChars: maxChunkChars, overlapChars: overlapChars}
}

// Split 将文本切分为有序分块序列，seq 从 0 连续递增。
// 空白文本返回空序列；无法按 UTF-8 解码的内容返回 ErrUnsupportedFormat。
func (s *Splitter) Split(text, fileName string) ([]model.Chunk, error) {
	if !utf8.ValidString(text) || strings.ContainsRune(text, '\x00') {
		return nil, apperr.ErrUnsupportedFormat
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	isCode := codeExtensions[strings.ToLower(filepath.Ext(fileName))]
	runes := []rune(text)

	var chunks []model.Chunk
	emit := func(from, to int) {
		text := string(runes[from:to])
		// 段落切分可能在文本末尾留下纯空白的尾块，丢弃以保持 seq 连续。
		if strings.TrimSpace(text) == "" {
			return
		}
		chunks = append(chunks, model.Chunk{
			Text:     text,
			FileName: fileName,
			Seq:      len(chunks),
		})
	}

	start := 0
	for {
		remaining := len(runes) - start
		if remaining <= s.maxChunkChars {
			emit(start, len(runes))
			break
		}

		window := runes[start : start+s.maxChunkChars]
		cut := softBoundary(window, isCode)
		if cut > 0 {
			emit(start, start+cut)
			next := start + cut - s.overlapChars
			if next <= start {
				next = start + cut
			}
			start = next
			continue
		}

		// 窗口内没有任何可用边界：均衡硬切，避免出现一个满窗口块
		// 拖着一个极短的尾巴。
		n := (remaining + s.maxChunkChars - 1) / s.maxChunkChars
		cutLen := (remaining + n - 1) / n
		emit(start, start+cutLen)
		start += cutLen
	}
	return chunks, nil
}

// softBoundary 在窗口的后半段中寻找最靠后的软边界，返回切分位置
// （相对窗口起点，切在边界之后）。找不到返回 0。
// 限制在后半段是为了避免切出过小的分块。
func softBoundary(window []rune, isCode bool) int {
	minCut := len(window) / 2

	// 1. 段落边界：空行之后。代码文件额外要求下一行从第 0 列开始，
	//    对应空行分隔的顶层声明块。
	for i := len(window) - 1; i > minCut; i-- {
		if window[i] != '\n' || window[i-1] != '\n' {
			continue
		}
		if isCode && i+1 < len(window) && isSpaceRune(window[i+1]) {
			continue
		}
		return i + 1
	}

	// 2. 句子边界：结束符后跟空白。
	for i := len(window) - 1; i > minCut; i-- {
		if sentenceEnders[window[i-1]] && isSpaceRune(window[i]) {
			return i + 1
		}
	}

	return 0
}

func isSpaceRune(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
