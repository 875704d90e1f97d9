package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
)

// Chain 可以在运行时注册中间件，作为一个总控挂到 Engine 上
type Chain struct {
	mu   sync.RWMutex
	mids []gin.HandlerFunc
}

func NewChain(mids ...gin.HandlerFunc) *Chain {
	return &Chain{mids: mids}
}

func (m *Chain) Add(h gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = append(m.mids, h)
}

func (m *Chain) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = nil
}

// Use runs the registered handlers in order, stopping at the first abort.
// Handlers must not call c.Next themselves.
func (m *Chain) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		handlers := append([]gin.HandlerFunc{}, m.mids...) // 拷贝一份快照
		m.mu.RUnlock()

		for _, h := range handlers {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}
