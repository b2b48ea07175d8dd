package events

import (
	"context"
	"errors"
	"sync"
)

// MemoryPublisher 使用 channel 缓冲事件，主要用于单机部署与测试。
type MemoryPublisher struct {
	ch     chan OrderConfirmed
	mu     sync.Mutex
	closed bool
}

// NewMemoryPublisher 创建内存事件发布器。
func NewMemoryPublisher(size int) *MemoryPublisher {
	if size <= 0 {
		size = 64
	}
	return &MemoryPublisher{ch: make(chan OrderConfirmed, size)}
}

// PublishOrderConfirmed 实现 Publisher 接口。缓冲满时丢弃最旧事件，
// 保证发布方永不阻塞。
func (p *MemoryPublisher) PublishOrderConfirmed(ctx context.Context, event OrderConfirmed) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("事件通道已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.ch <- event:
		return nil
	default:
	}
	select {
	case <-p.ch:
	default:
	}
	p.ch <- event
	return nil
}

// Events 返回事件通道，供消费方读取。
func (p *MemoryPublisher) Events() <-chan OrderConfirmed {
	return p.ch
}

// Close 关闭事件通道。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.ch)
	return nil
}
