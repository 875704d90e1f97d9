package user

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"PSocial/middleware"
	midsec "PSocial/middleware/security"
	"PSocial/module/user/model"
	"PSocial/service/presence"
	"PSocial/tools/security"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeDirectory struct {
	users map[string]*model.User
	err   error
}

func (f *fakeDirectory) FindByID(_ context.Context, id string) (*model.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		return nil, ErrBadID
	}
	u, ok := f.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (f *fakeDirectory) FindFriends(ctx context.Context, id string) ([]model.User, error) {
	u, err := f.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	out := []model.User{}
	for _, fid := range u.Friends {
		if fu, ok := f.users[fid.Hex()]; ok {
			out = append(out, *fu)
		}
	}
	return out, nil
}

func (f *fakeDirectory) UpdateStatus(context.Context, string, presence.Status) error { return nil }

func (f *fakeDirectory) MarkOfflineExcept(context.Context, []string) (int64, error) { return 0, nil }

type stubConn struct{ id string }

func (s stubConn) ID() string                { return s.id }
func (s stubConn) Emit(presence.Event) error { return nil }
func (s stubConn) Close()                    {}

type fakeOnline map[string]presence.Conn

func (f fakeOnline) IsOnline(id string) bool { _, ok := f[id]; return ok }

func (f fakeOnline) OnlineUsers() map[string]presence.Conn { return f }

type fixture struct {
	me, alice, bob, carol primitive.ObjectID
	dir                   *fakeDirectory
	engine                *gin.Engine
	token                 string
}

func newFixture(t *testing.T, baseURL string) *fixture {
	t.Helper()
	f := &fixture{
		me:    primitive.NewObjectID(),
		alice: primitive.NewObjectID(),
		bob:   primitive.NewObjectID(),
		carol: primitive.NewObjectID(),
	}
	f.dir = &fakeDirectory{users: map[string]*model.User{
		f.me.Hex():    {ID: f.me, Name: "Me", Friends: []primitive.ObjectID{f.alice, f.bob}},
		f.alice.Hex(): {ID: f.alice, Name: "Alice", ProfilePicture: "alice.png", Status: model.StatusOnline},
		f.bob.Hex():   {ID: f.bob, Name: "Bob", Status: model.StatusOffline},
		f.carol.Hex(): {ID: f.carol, Name: "Carol", Status: model.StatusOnline},
	}}
	online := fakeOnline{
		f.alice.Hex(): stubConn{"c-alice"},
		f.carol.Hex(): stubConn{"c-carol"},
	}

	opts := security.Options{Secret: []byte("k")}
	tok, _, err := security.Generate(opts, f.me.Hex())
	if err != nil {
		t.Fatal(err)
	}
	f.token = tok

	f.engine = gin.New()
	NewHandler(f.dir, online, baseURL, nil).Register(middleware.NewRoutes(f.engine, midsec.Middleware(opts)))
	return f
}

func (f *fixture) get(path string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Host = "api.test"
	if auth {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestOnlineFriendsFiltersByRegistry(t *testing.T) {
	f := newFixture(t, "")
	w := f.get("/api/users/online-friends", true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}

	var got []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	// carol 在线但不是好友，bob 是好友但不在线
	if len(got) != 1 || got[0]["name"] != "Alice" {
		t.Fatalf("friends = %v", got)
	}
	if got[0]["profilePictureUrl"] != "http://api.test/uploads/profilephotos/alice.png" {
		t.Fatalf("picture url = %v", got[0]["profilePictureUrl"])
	}
	if _, leaked := got[0]["password"]; leaked {
		t.Fatal("password leaked")
	}
}

func TestOnlineFriendsUsesConfiguredBase(t *testing.T) {
	f := newFixture(t, "https://cdn.example.com/")
	w := f.get("/api/users/online-friends", true)
	var got []map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if len(got) != 1 || got[0]["profilePictureUrl"] != "https://cdn.example.com/uploads/profilephotos/alice.png" {
		t.Fatalf("friends = %v", got)
	}
}

func TestOnlineFriendsRequiresToken(t *testing.T) {
	f := newFixture(t, "")
	if w := f.get("/api/users/online-friends", false); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestPresenceEndpoint(t *testing.T) {
	f := newFixture(t, "")

	w := f.get("/api/users/"+f.alice.Hex()+"/presence", false)
	var got map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if w.Code != http.StatusOK || got["online"] != true || got["status"] != "online" {
		t.Fatalf("alice = %d %v", w.Code, got)
	}

	w = f.get("/api/users/"+f.bob.Hex()+"/presence", false)
	got = nil
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got["online"] != false || got["status"] != "offline" {
		t.Fatalf("bob = %v", got)
	}

	if w := f.get("/api/users/"+primitive.NewObjectID().Hex()+"/presence", false); w.Code != http.StatusNotFound {
		t.Fatalf("unknown user = %d", w.Code)
	}
	if w := f.get("/api/users/not-an-id/presence", false); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id = %d", w.Code)
	}
}

func TestPresenceWithoutDirectory(t *testing.T) {
	f := newFixture(t, "")
	f.dir.err = ErrNotReady
	w := f.get("/api/users/"+f.alice.Hex()+"/presence", false)
	var got map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if w.Code != http.StatusOK || got["online"] != true {
		t.Fatalf("got %d %v", w.Code, got)
	}
	if _, ok := got["status"]; ok {
		t.Fatal("status should be absent without a directory")
	}
}

func TestOnlineList(t *testing.T) {
	f := newFixture(t, "")
	w := f.get("/api/presence/online", true)
	var got struct {
		Count int      `json:"count"`
		Users []string `json:"users"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	sort.Strings(got.Users)
	want := []string{f.alice.Hex(), f.carol.Hex()}
	sort.Strings(want)
	if got.Count != 2 || got.Users[0] != want[0] || got.Users[1] != want[1] {
		t.Fatalf("online = %+v", got)
	}
}
