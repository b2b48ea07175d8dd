package llm

import (
	"context"
	"encoding/json"
)

// 对话角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message 是对话历史中的一个回合。助手请求工具调用时携带 ToolCall；
// 工具结果回合以 RoleTool 加 ToolCallID 回传。
type Message struct {
	Role       string
	Content    string
	ToolCall   *ToolCall
	ToolCallID string
}

// ToolCall 是模型发起的一次工具调用请求，参数为原始 JSON。
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolDefinition 向模型声明一个可调用工具，Parameters 为 JSON Schema。
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request 描述一次推理调用的完整上下文。
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolDefinition
}

// Response 是一次推理的结果：纯文本回复，或一个待执行的工具调用。
type Response struct {
	Text     string
	ToolCall *ToolCall
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
