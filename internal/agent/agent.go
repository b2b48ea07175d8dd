package agent

import (
	"context"
	stdErrors "errors"
	"sync"
	"time"

	xerrors "UCP-Commerce/internal/errors"
	"UCP-Commerce/internal/llm"
)

// systemPrompt 定义导购智能体的角色与行为边界。
const systemPrompt = `You are a helpful shopping assistant for a network of flower and plant shops.

You can search for products across all federated shops, inspect the main shop's
catalog, and manage checkout sessions on the customer's behalf.

Guidelines:
- When the user asks about products, use search_all_shops to look across every shop.
- Always mention which shop a product comes from when presenting search results.
- Before completing a checkout, make sure you have collected the customer's email,
  name, shipping address, and shipping method, and confirm the order with the user.
- Keep track of the current checkout session and reuse its ID for updates.
- Be concise and friendly. Quote prices with their currency.`

// defaultMaxTurns 是单条用户消息允许触发的最大推理轮数。
const defaultMaxTurns = 8

// failClosedReply 在推理轮数耗尽时回复用户，避免无限工具循环。
const failClosedReply = "I'm sorry, I could not complete that request. Please try asking in a different way."

// Agent 维护一段对话的完整历史，协调大模型与商家工具调用。
// 同一个 Agent 上的 Chat 调用会被串行化。
type Agent struct {
	llmClient  llm.Client
	shop       ShopClient
	searcher   Searcher
	maxTurns   int
	llmTimeout time.Duration

	mu                sync.Mutex
	history           []llm.Message
	currentCheckoutID string
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithMaxTurns 设置单条消息允许的最大推理轮数。
func WithMaxTurns(turns int) Option {
	return func(a *Agent) {
		if turns > 0 {
			a.maxTurns = turns
		}
	}
}

// WithLLMTimeout 设置单次大模型调用的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout > 0 {
			a.llmTimeout = timeout
		}
	}
}

// New 创建一个导购 Agent。
func New(llmClient llm.Client, shop ShopClient, searcher Searcher, opts ...Option) *Agent {
	ag := &Agent{
		llmClient: llmClient,
		shop:      shop,
		searcher:  searcher,
		maxTurns:  defaultMaxTurns,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// Chat 处理一条用户消息：把消息写入历史，反复调用大模型并同步执行
// 它请求的工具，直到产出纯文本回复或轮数耗尽。工具执行失败不会中断
// 对话，失败信息以结构化结果形式回传给模型继续推理。
func (a *Agent) Chat(ctx context.Context, message string) (string, error) {
	if a.llmClient == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	if message == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "消息内容不能为空")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.history = append(a.history, llm.Message{Role: llm.RoleUser, Content: message})

	tools := toolDefinitions()
	for turn := 0; turn < a.maxTurns; turn++ {
		response, err := a.generate(ctx, tools)
		if err != nil {
			if stdErrors.Is(err, context.DeadlineExceeded) {
				return "", xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
			}
			return "", xerrors.Wrap(xerrors.CodeUpstreamUnavailable, err, "大模型推理失败")
		}

		if response.ToolCall == nil {
			a.history = append(a.history, llm.Message{Role: llm.RoleAssistant, Content: response.Text})
			return response.Text, nil
		}

		// 工具调用本身与其结果都进入历史，供后续轮次参考。
		a.history = append(a.history, llm.Message{
			Role:     llm.RoleAssistant,
			ToolCall: response.ToolCall,
		})
		result := a.executeTool(ctx, response.ToolCall)
		a.history = append(a.history, llm.Message{
			Role:       llm.RoleTool,
			Content:    result,
			ToolCallID: response.ToolCall.ID,
		})
	}

	// 轮数耗尽：以固定话术收尾，历史保留已执行的工具调用。
	a.history = append(a.history, llm.Message{Role: llm.RoleAssistant, Content: failClosedReply})
	return failClosedReply, nil
}

// Reset 清空对话历史与当前结账会话。
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
	a.currentCheckoutID = ""
}

// CurrentCheckoutID 返回最近一次创建且尚未完成的结账会话 ID。
func (a *Agent) CurrentCheckoutID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentCheckoutID
}

// HistoryLength 返回当前对话历史的长度。
func (a *Agent) HistoryLength() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.history)
}

func (a *Agent) generate(ctx context.Context, tools []llm.ToolDefinition) (*llm.Response, error) {
	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}
	messages := make([]llm.Message, len(a.history))
	copy(messages, a.history)
	return a.llmClient.Generate(llmCtx, llm.Request{
		System:   systemPrompt,
		Messages: messages,
		Tools:    tools,
	})
}
