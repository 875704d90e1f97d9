package presence

import "sync"

// Registration reports what a Register call changed.
type Registration struct {
	// Replaced is the handle that previously served the user, now superseded.
	Replaced Conn
	// Released is the user this handle was bound to before, if different.
	Released string
	// First is true when the user had no handle before this call.
	First bool
}

// Registry 维护 userID -> 当前连接 的唯一映射，外加反向索引用于断线时定位用户。
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Conn
	byConn map[Conn]string
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]Conn),
		byConn: make(map[Conn]string),
	}
}

// Register binds userID to c. A later registration for the same user wins.
func (r *Registry) Register(userID string, c Conn) Registration {
	return r.RegisterFunc(userID, c, nil)
}

// RegisterFunc is Register with fn run under the write lock when the mapping
// changed, so side effects keyed by user are ordered like the mapping itself.
// fn must not block or call back into the registry.
func (r *Registry) RegisterFunc(userID string, c Conn, fn func(Registration)) Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reg Registration
	if cur, ok := r.byUser[userID]; ok && cur == c {
		return reg
	}

	// 同一连接之前绑定过别的用户：先解绑
	if old, ok := r.byConn[c]; ok && old != userID {
		if r.byUser[old] == c {
			delete(r.byUser, old)
		}
		reg.Released = old
	}

	prev, had := r.byUser[userID]
	if had {
		delete(r.byConn, prev)
		reg.Replaced = prev
	}
	reg.First = !had

	r.byUser[userID] = c
	r.byConn[c] = userID
	if fn != nil {
		fn(reg)
	}
	return reg
}

// Unregister removes c if it is still the current handle of its user.
// removed is false for unknown or superseded handles.
func (r *Registry) Unregister(c Conn) (userID string, removed bool) {
	return r.UnregisterFunc(c, nil)
}

// UnregisterFunc is Unregister with fn run under the write lock, only when c
// was the current handle.
func (r *Registry) UnregisterFunc(c Conn, fn func(userID string)) (userID string, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[c]
	if !ok {
		return "", false
	}
	delete(r.byConn, c)
	if r.byUser[userID] != c {
		return userID, false
	}
	delete(r.byUser, userID)
	if fn != nil {
		fn(userID)
	}
	return userID, true
}

func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	c, ok := r.byUser[userID]
	r.mu.RUnlock()
	return c, ok
}

// UserOf returns the user c is currently registered for.
func (r *Registry) UserOf(c Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byConn[c]
	return u, ok
}

// Snapshot 返回调用时刻的拷贝，之后的注册/注销不影响它
func (r *Registry) Snapshot() map[string]Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Conn, len(r.byUser))
	for u, c := range r.byUser {
		out[u] = c
	}
	return out
}

func (r *Registry) UserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byUser))
	for u := range r.byUser {
		out = append(out, u)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
