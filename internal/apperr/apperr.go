// Package apperr 定义了核心流程的错误分类。
// 各层通过 errors.Is 判定类别，通过 fmt.Errorf("...: %w", err) 附加上下文。
package apperr

import (
	"context"
	"errors"
)

var (
	// ErrUnsupportedFormat 表示输入无法被解码为文本（例如未经提取的二进制内容）。
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrDuplicateFile 表示同名文件已被索引，需要先删除再重新导入。
	ErrDuplicateFile = errors.New("duplicate file")

	// ErrNotFound 表示目标文件不在注册表中。
	ErrNotFound = errors.New("not found")

	// ErrUpstreamUnavailable 表示 Embedding/LLM 等上游能力调用失败。
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamTimeout 表示上游能力调用超时。
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrInvalidInput 表示调用方传入了非法参数（空查询、温度越界等）。
	ErrInvalidInput = errors.New("invalid input")
)

// Upstream 将上游调用返回的原始错误归类为超时或不可用。
// ctx 超时会同时体现在 err 中，两种来源都要检查。
func Upstream(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrUpstreamTimeout
	}
	if errors.Is(err, ErrUpstreamTimeout) || errors.Is(err, ErrUpstreamUnavailable) {
		return err
	}
	return ErrUpstreamUnavailable
}
