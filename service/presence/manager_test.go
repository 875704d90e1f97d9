package presence

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestIdentifyRegistersAndWritesOnline(t *testing.T) {
	rec := &recordingWriter{}
	m := newTestManager(true, rec)
	c, s := connect(t, m, "c1")

	if err := m.Identify(s, "alice"); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateIdentified || s.UserID() != "alice" {
		t.Fatalf("session = %s %q", s.State(), s.UserID())
	}
	if got, ok := m.OnlineUsers()["alice"]; !ok || got != c {
		t.Fatalf("online users = %v", m.OnlineUsers())
	}
	if !m.IsOnline("alice") || m.Count() != 1 {
		t.Fatal("alice should be online")
	}

	// 重复 userOnline 不产生额外写入
	if err := m.Identify(s, "alice"); err != nil {
		t.Fatal(err)
	}
	drainStatus(t, m)
	if got := rec.forUser("alice"); !reflect.DeepEqual(got, []Status{StatusOnline}) {
		t.Fatalf("writes = %v", got)
	}
}

func TestIdentifyRejectsEmptyAndClosed(t *testing.T) {
	m := newTestManager(true)
	_, s := connect(t, m, "c1")
	if err := m.Identify(s, ""); err != ErrEmptyUserID {
		t.Fatalf("empty id err = %v", err)
	}
	m.Disconnect(s)
	if err := m.Identify(s, "alice"); err != ErrSessionClosed {
		t.Fatalf("closed session err = %v", err)
	}
	if m.Count() != 0 {
		t.Fatal("closed session registered")
	}
}

func TestDisconnectWritesOffline(t *testing.T) {
	rec := &recordingWriter{}
	m := newTestManager(true, rec)
	_, s := connect(t, m, "c1")
	m.Identify(s, "alice")

	m.Disconnect(s)
	m.Disconnect(s)

	if m.IsOnline("alice") || m.Sessions() != 0 {
		t.Fatal("alice still tracked after disconnect")
	}
	drainStatus(t, m)
	if got := rec.forUser("alice"); !reflect.DeepEqual(got, []Status{StatusOnline, StatusOffline}) {
		t.Fatalf("writes = %v", got)
	}
}

func TestAnonymousDisconnectLeavesNoTrace(t *testing.T) {
	rec := &recordingWriter{}
	m := newTestManager(true, rec)
	_, s := connect(t, m, "c1")

	m.Disconnect(s)
	drainStatus(t, m)
	if len(rec.all()) != 0 || m.Count() != 0 {
		t.Fatalf("anonymous session wrote %v", rec.all())
	}
}

func TestReidentifyDifferentUserReleasesOld(t *testing.T) {
	rec := &recordingWriter{}
	m := newTestManager(true, rec)
	c, s := connect(t, m, "c1")
	m.Identify(s, "alice")

	if err := m.Identify(s, "bob"); err != nil {
		t.Fatal(err)
	}
	if m.IsOnline("alice") {
		t.Fatal("alice should be released")
	}
	if got, _ := m.Registry().Lookup("bob"); got != c {
		t.Fatal("bob not bound to the connection")
	}
	drainStatus(t, m)
	if got := rec.forUser("alice"); !reflect.DeepEqual(got, []Status{StatusOnline, StatusOffline}) {
		t.Fatalf("alice writes = %v", got)
	}
	if got := rec.forUser("bob"); !reflect.DeepEqual(got, []Status{StatusOnline}) {
		t.Fatalf("bob writes = %v", got)
	}
}

func TestNewConnectionReplacesOld(t *testing.T) {
	rec := &recordingWriter{}
	m := newTestManager(true, rec)
	old, s1 := connect(t, m, "old")
	m.Identify(s1, "alice")
	cur, s2 := connect(t, m, "new")
	m.Identify(s2, "alice")

	if got, _ := m.Registry().Lookup("alice"); got != cur {
		t.Fatal("latest connection should win")
	}
	if len(old.named(EventSessionReplaced)) != 1 {
		t.Fatalf("old conn events = %v", old.got())
	}
	if !old.isClosed() {
		t.Fatal("old connection should be closed when kicking is on")
	}

	// 旧连接随后断开：不能把 alice 标记为离线
	m.Disconnect(s1)
	if !m.IsOnline("alice") {
		t.Fatal("stale disconnect removed the live registration")
	}
	drainStatus(t, m)
	if got := rec.forUser("alice"); !reflect.DeepEqual(got, []Status{StatusOnline}) {
		t.Fatalf("writes = %v", got)
	}
}

func TestReplaceWithoutKick(t *testing.T) {
	m := newTestManager(false)
	old, s1 := connect(t, m, "old")
	m.Identify(s1, "alice")
	_, s2 := connect(t, m, "new")
	m.Identify(s2, "alice")

	if old.isClosed() {
		t.Fatal("old connection closed with kicking off")
	}
	if len(old.named(EventSessionReplaced)) != 1 {
		t.Fatal("old connection not notified")
	}

	// 旧连接再次 userOnline 会把身份抢回来
	m.Identify(s1, "alice")
	if got, _ := m.Registry().Lookup("alice"); got != old {
		t.Fatal("re-announce should re-register the old connection")
	}
}

func TestJoinRoomAnnouncesAndDisconnectCleans(t *testing.T) {
	m := newTestManager(true)
	a, sa := connect(t, m, "a")
	b, sb := connect(t, m, "b")

	m.JoinRoom(sa, "room1", "alice")
	m.JoinRoom(sb, "room1", "bob")
	m.JoinRoom(sb, "room1", "bob")

	joined := a.named(EventUserConnected)
	if len(joined) != 1 || joined[0].Data != "bob" {
		t.Fatalf("alice saw %v", a.got())
	}
	if len(b.named(EventUserConnected)) != 0 {
		t.Fatal("joiner should not see its own announcement")
	}

	m.Disconnect(sb)
	left := a.named(EventUserDisconnected)
	if len(left) != 1 || left[0].Data != "bob" {
		t.Fatalf("alice saw %v", a.got())
	}
	if got := m.Rooms().Members("room1"); len(got) != 1 || got[0] != a {
		t.Fatalf("room1 members = %v", got)
	}
	if len(m.Rooms().RoomsOf(b)) != 0 {
		t.Fatal("disconnected handle still indexed")
	}
}

func TestJoinRoomDefaultsToSessionUser(t *testing.T) {
	m := newTestManager(true)
	a, sa := connect(t, m, "a")
	_, sb := connect(t, m, "b")
	m.Identify(sb, "bob")

	m.JoinRoom(sa, "room1", "alice")
	m.JoinRoom(sb, "room1", "")
	if evs := a.named(EventUserConnected); len(evs) != 1 || evs[0].Data != "bob" {
		t.Fatalf("alice saw %v", a.got())
	}
}

func TestLeaveRoom(t *testing.T) {
	m := newTestManager(true)
	a, sa := connect(t, m, "a")
	_, sb := connect(t, m, "b")
	m.JoinRoom(sa, "room1", "alice")
	m.JoinRoom(sb, "room1", "bob")

	m.LeaveRoom(sb, "room1")
	m.LeaveRoom(sb, "room1")
	if evs := a.named(EventUserDisconnected); len(evs) != 1 {
		t.Fatalf("alice saw %v", a.got())
	}
}

func TestSignalThroughManager(t *testing.T) {
	m := newTestManager(true)
	_, sa := connect(t, m, "a")
	b, sb := connect(t, m, "b")
	m.Identify(sa, "alice")
	m.Identify(sb, "bob")

	if !m.Signal(sa, Envelope{To: "bob", Kind: SignalOffer, Payload: "sdp"}) {
		t.Fatal("offer not delivered")
	}
	data := b.named(EventIncomingCall)[0].Data.(map[string]any)
	if data["from"] != "a" || data["fromUserId"] != "alice" {
		t.Fatalf("frame = %v", data)
	}
}

func TestStatusWritesKeepPerUserOrder(t *testing.T) {
	rec := &recordingWriter{}
	m := newTestManager(true, rec)

	const rounds = 50
	for i := 0; i < rounds; i++ {
		_, s := connect(t, m, fmt.Sprintf("c%d", i))
		m.Identify(s, "alice")
		m.Disconnect(s)
	}
	drainStatus(t, m)

	got := rec.forUser("alice")
	if len(got) != 2*rounds {
		t.Fatalf("writes = %d", len(got))
	}
	for i, st := range got {
		want := StatusOnline
		if i%2 == 1 {
			want = StatusOffline
		}
		if st != want {
			t.Fatalf("write %d = %s, want %s", i, st, want)
		}
	}
}

// 旧连接断开与新连接上线并发：最后落盘的状态必须和注册表一致
func TestReconnectRaceLastWriteMatchesRegistry(t *testing.T) {
	rec := &recordingWriter{}
	m := newTestManager(false, rec)

	const users = 200
	for i := 0; i < users; i++ {
		user := fmt.Sprintf("u%d", i)
		_, old := connect(t, m, user+"-old")
		_, fresh := connect(t, m, user+"-new")
		if err := m.Identify(old, user); err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); m.Disconnect(old) }()
		go func() { defer wg.Done(); _ = m.Identify(fresh, user) }()
		wg.Wait()
	}
	drainStatus(t, m)

	for i := 0; i < users; i++ {
		user := fmt.Sprintf("u%d", i)
		if !m.IsOnline(user) {
			t.Fatalf("%s not registered", user)
		}
		got := rec.forUser(user)
		if len(got) == 0 || got[len(got)-1] != StatusOnline {
			t.Fatalf("%s writes = %v, last must be online", user, got)
		}
	}
}

func TestFailingWriterDoesNotBlockOthers(t *testing.T) {
	bad := &recordingWriter{fail: fmt.Errorf("mongo down")}
	good := &recordingWriter{}
	m := newTestManager(true, bad, good)
	_, s := connect(t, m, "c1")
	m.Identify(s, "alice")
	drainStatus(t, m)

	if len(good.forUser("alice")) != 1 {
		t.Fatal("healthy writer missed the update")
	}
	if !m.IsOnline("alice") {
		t.Fatal("registry must not depend on persistence")
	}
}

func TestConcurrentSessions(t *testing.T) {
	rec := &recordingWriter{}
	m := newTestManager(true, rec)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newFakeConn(fmt.Sprintf("c%d", i))
			s, err := m.Connect(c)
			if err != nil {
				return
			}
			user := fmt.Sprintf("u%d", i%4)
			m.Identify(s, user)
			m.JoinRoom(s, "lobby", user)
			m.Signal(s, Envelope{To: fmt.Sprintf("u%d", (i+1)%4), Kind: SignalCandidate})
			m.Disconnect(s)
		}(i)
	}
	wg.Wait()

	if m.Count() != 0 || m.Sessions() != 0 || m.Rooms().Len() != 0 {
		t.Fatalf("leftover state: users=%d sessions=%d rooms=%d", m.Count(), m.Sessions(), m.Rooms().Len())
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	rec := &recordingWriter{}
	m := newTestManager(true, rec)
	c, s := connect(t, m, "c1")
	m.Identify(s, "alice")

	// 模拟传输层：连接被关闭后读循环退出并调用 Disconnect
	go func() {
		for !c.isClosed() {
			time.Sleep(time.Millisecond)
		}
		m.Disconnect(s)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if got := rec.forUser("alice"); !reflect.DeepEqual(got, []Status{StatusOnline, StatusOffline}) {
		t.Fatalf("writes = %v", got)
	}
	if _, err := m.Connect(newFakeConn("late")); err != ErrShuttingDown {
		t.Fatalf("connect after shutdown err = %v", err)
	}
}

func TestEvictRemote(t *testing.T) {
	rec := &recordingWriter{}
	m := newTestManager(true, rec)
	c, s := connect(t, m, "c1")
	m.Identify(s, "alice")

	if m.EvictRemote("bob", "node-2") {
		t.Fatal("unknown user evicted")
	}
	if !m.EvictRemote("alice", "node-2") {
		t.Fatal("alice not evicted")
	}
	if m.IsOnline("alice") || !c.isClosed() {
		t.Fatal("alice should be gone locally and her connection closed")
	}
	if len(c.named(EventSessionReplaced)) != 1 {
		t.Fatalf("events = %v", c.got())
	}

	m.Disconnect(s)
	drainStatus(t, m)
	// 用户在别的节点在线：本节点不写 offline
	if got := rec.forUser("alice"); !reflect.DeepEqual(got, []Status{StatusOnline}) {
		t.Fatalf("writes = %v", got)
	}
}
