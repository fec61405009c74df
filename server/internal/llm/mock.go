package llm

import (
	"context"
)

// MockClient 用于测试的 Mock LLM 客户端。
type MockClient struct {
	// Reply 固定返回的台词；为空时返回内置默认台词。
	Reply string
	// Err 非空时 Complete 直接返回该错误，用于验证兜底路径。
	Err error
	// Delay 模拟生成耗时；配合 ctx 超时验证兜底路径。
	Delay func(ctx context.Context) error

	CallCount int
	// LastMessages 记录最近一次调用的消息，便于断言提示词内容。
	LastMessages []Message
}

// Complete 模拟文本生成。
func (m *MockClient) Complete(ctx context.Context, messages []Message) (string, error) {
	m.CallCount++
	m.LastMessages = messages

	if m.Delay != nil {
		if err := m.Delay(ctx); err != nil {
			return "", err
		}
	}
	if m.Err != nil {
		return "", m.Err
	}
	if m.Reply != "" {
		return m.Reply, nil
	}
	return "Hmm, go on. What exactly would that look like for us?", nil
}
