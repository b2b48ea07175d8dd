package agent

import (
	"sync"

	"github.com/google/uuid"
)

// Factory 负责为新会话构造 Agent。
type Factory func() *Agent

// Registry 按会话 ID 管理 Agent 实例，服务层用它把 HTTP 对话
// 请求路由到各自的会话。
type Registry struct {
	mu      sync.RWMutex
	factory Factory
	agents  map[string]*Agent
}

// NewRegistry 创建一个会话注册表。
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		agents:  make(map[string]*Agent),
	}
}

// Acquire 返回指定会话的 Agent。ID 为空或尚不存在时创建新会话，
// 并返回实际使用的会话 ID。
func (r *Registry) Acquire(id string) (*Agent, string) {
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.RLock()
	ag, ok := r.agents[id]
	r.mu.RUnlock()
	if ok {
		return ag, id
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ag, ok := r.agents[id]; ok {
		return ag, id
	}
	ag = r.factory()
	r.agents[id] = ag
	return ag, id
}

// Reset 清空指定会话的历史。会话不存在时不做任何事。
func (r *Registry) Reset(id string) {
	r.mu.RLock()
	ag, ok := r.agents[id]
	r.mu.RUnlock()
	if ok {
		ag.Reset()
	}
}

// ResetAll 清空全部会话的历史。
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ag := range r.agents {
		ag.Reset()
	}
}

// Evict 移除指定会话。
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}

// Len 返回当前活跃会话数。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
