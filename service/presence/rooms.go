package presence

import "sync"

// Departure is one room a connection left, with the user id it joined as.
type Departure struct {
	RoomID string
	UserID string
}

// Rooms 双索引：room -> (conn -> userId)，conn -> rooms。断线时按 conn 一次清干净。
type Rooms struct {
	mu     sync.RWMutex
	rooms  map[string]map[Conn]string
	byConn map[Conn]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		rooms:  make(map[string]map[Conn]string),
		byConn: make(map[Conn]map[string]struct{}),
	}
}

// Join adds c to roomID. Joining twice is a no-op and returns false.
func (r *Rooms) Join(roomID string, c Conn, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[Conn]string)
		r.rooms[roomID] = members
	}
	if _, in := members[c]; in {
		return false
	}
	members[c] = userID

	joined, ok := r.byConn[c]
	if !ok {
		joined = make(map[string]struct{})
		r.byConn[c] = joined
	}
	joined[roomID] = struct{}{}
	return true
}

func (r *Rooms) Leave(roomID string, c Conn) (userID string, left bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(roomID, c)
}

func (r *Rooms) removeLocked(roomID string, c Conn) (string, bool) {
	members, ok := r.rooms[roomID]
	if !ok {
		return "", false
	}
	userID, in := members[c]
	if !in {
		return "", false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	if joined, ok := r.byConn[c]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(r.byConn, c)
		}
	}
	return userID, true
}

// LeaveAll removes c from every room it joined.
func (r *Rooms) LeaveAll(c Conn) []Departure {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.byConn[c]
	if len(joined) == 0 {
		return nil
	}
	ids := make([]string, 0, len(joined))
	for roomID := range joined {
		ids = append(ids, roomID)
	}
	out := make([]Departure, 0, len(ids))
	for _, roomID := range ids {
		if userID, ok := r.removeLocked(roomID, c); ok {
			out = append(out, Departure{RoomID: roomID, UserID: userID})
		}
	}
	return out
}

// Broadcast emits ev to every member of roomID except exclude and returns
// how many members accepted it. Sends happen outside the lock.
func (r *Rooms) Broadcast(roomID string, ev Event, exclude Conn) int {
	targets := r.Members(roomID)
	n := 0
	for _, c := range targets {
		if c == exclude {
			continue
		}
		if err := c.Emit(ev); err == nil {
			n++
		}
	}
	return n
}

func (r *Rooms) Members(roomID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[roomID]
	out := make([]Conn, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

func (r *Rooms) RoomsOf(c Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byConn[c]))
	for roomID := range r.byConn[c] {
		out = append(out, roomID)
	}
	return out
}

// Len 返回非空房间数
func (r *Rooms) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
