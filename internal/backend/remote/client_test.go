package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/deploydeck/internal/auth"
	"github.com/vovakirdan/deploydeck/internal/backend"
	"github.com/vovakirdan/deploydeck/internal/backend/local"
	"github.com/vovakirdan/deploydeck/internal/chatsync"
	"github.com/vovakirdan/deploydeck/internal/config"
	"github.com/vovakirdan/deploydeck/internal/proto"
	"github.com/vovakirdan/deploydeck/internal/realtime"
	"github.com/vovakirdan/deploydeck/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/deploydeck/internal/transport/http"
)

const adminEmail = "admin@example.com"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := realtime.NewHub(nil, 16)
	go hub.Run(ctx)

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret: []byte("test-secret"),
		TTL:    time.Hour,
	}, adminEmail)

	cfg := config.Default()
	cfg.AuthRateLimit = 0
	logger := zerolog.Nop()

	ts := httptest.NewServer(transporthttp.NewRouter(local.New(st, hub, hub, &logger), authService, &cfg, &logger))
	t.Cleanup(ts.Close)
	return ts
}

func newSignedUpClient(t *testing.T, ts *httptest.Server, email string) (*Client, backend.Record) {
	t.Helper()

	c, err := New(ts.URL)
	require.NoError(t, err)
	resp, err := c.SignUp(context.Background(), email, "password123", "")
	require.NoError(t, err)
	require.NotEmpty(t, c.Token())
	return c, resp.User
}

type collector struct {
	mu     sync.Mutex
	events []backend.Event
	got    chan struct{}
}

func newCollector() *collector {
	return &collector{got: make(chan struct{}, 16)}
}

func (c *collector) handle(ev backend.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com")
	assert.Error(t, err)
	_, err = New("://nope")
	assert.Error(t, err)
}

func TestInsertAndQuery(t *testing.T) {
	ts := newTestServer(t)
	c, user := newSignedUpClient(t, ts, "alice@example.com")
	ctx := context.Background()

	created, err := c.Insert(ctx, backend.CollectionMessages, backend.Record{"scope": "global", "text": "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID())
	assert.Equal(t, user.ID(), created.String("user_id"))

	records, err := c.Query(ctx, backend.CollectionMessages, backend.Query{
		Filter:  map[string]string{"scope": "global"},
		OrderBy: backend.FieldCreatedAt,
		Limit:   10,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, created.ID(), records[0].ID())
}

func TestErrorsMapToSentinels(t *testing.T) {
	ts := newTestServer(t)
	c, user := newSignedUpClient(t, ts, "bob@example.com")
	ctx := context.Background()

	_, err := c.Query(ctx, backend.CollectionProfiles, backend.Query{})
	assert.ErrorIs(t, err, backend.ErrForbidden)

	_, err = c.Query(ctx, "invoices", backend.Query{})
	assert.ErrorIs(t, err, backend.ErrUnknownCollection)

	err = c.Update(ctx, backend.CollectionMessages, "m1", backend.Record{"text": "x"})
	assert.ErrorIs(t, err, backend.ErrUnsupported)

	var apiErr *APIError
	_, err = c.Insert(ctx, backend.CollectionMessages, backend.Record{"text": " "})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
	assert.ErrorIs(t, err, backend.ErrInvalidRecord)

	c.SetToken("")
	_, err = c.Query(ctx, backend.CollectionMessages, backend.Query{})
	assert.True(t, IsUnauthorized(err), "got %v", err)

	_, err = c.SignIn(ctx, "bob@example.com", "wrong-password")
	assert.True(t, IsUnauthorized(err), "got %v", err)

	_, err = c.SignIn(ctx, "bob@example.com", "password123")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID())
}

func TestAdminUpdateAndDelete(t *testing.T) {
	ts := newTestServer(t)
	_, user := newSignedUpClient(t, ts, "carol@example.com")
	admin, _ := newSignedUpClient(t, ts, adminEmail)
	ctx := context.Background()

	require.NoError(t, admin.Update(ctx, backend.CollectionProfiles, user.ID(), backend.Record{"is_premium": true}))

	profiles, err := admin.Query(ctx, backend.CollectionProfiles, backend.Query{Filter: map[string]string{"role": "user"}})
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, true, profiles[0]["is_premium"])

	require.NoError(t, admin.Delete(ctx, backend.CollectionProfiles, user.ID()))
	assert.ErrorIs(t, admin.Delete(ctx, backend.CollectionProfiles, user.ID()), backend.ErrNotFound)
}

func TestSubscribeDeliversUntilUnsubscribed(t *testing.T) {
	ts := newTestServer(t)
	c, _ := newSignedUpClient(t, ts, "dave@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	col := newCollector()
	sub, err := c.Subscribe(ctx, backend.CollectionMessages, backend.InsertsOnly(map[string]string{"scope": "ops"}), col.handle)
	require.NoError(t, err)

	_, err = c.Insert(ctx, backend.CollectionMessages, backend.Record{"scope": "global", "text": "not for ops"})
	require.NoError(t, err)
	_, err = c.Insert(ctx, backend.CollectionMessages, backend.Record{"scope": "ops", "text": "for ops"})
	require.NoError(t, err)

	select {
	case <-col.got:
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
	assert.Equal(t, 1, col.count())
	assert.Equal(t, "for ops", col.events[0].Record.String("text"))
	assert.Equal(t, backend.EventInsert, col.events[0].Type)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())

	_, err = c.Insert(ctx, backend.CollectionMessages, backend.Record{"scope": "ops", "text": "after"})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, col.count())
}

func TestSubscribeFailureIsReported(t *testing.T) {
	ts := newTestServer(t)
	c, _ := newSignedUpClient(t, ts, "erin@example.com")

	_, err := c.Subscribe(context.Background(), backend.CollectionProfiles, backend.EventFilter{}, func(backend.Event) {})
	assert.ErrorIs(t, err, backend.ErrForbidden)

	c.SetToken("")
	_, err = c.Subscribe(context.Background(), backend.CollectionMessages, backend.EventFilter{}, func(backend.Event) {})
	assert.True(t, IsUnauthorized(err), "got %v", err)
}

func TestChatSessionOverRemote(t *testing.T) {
	ts := newTestServer(t)
	c, user := newSignedUpClient(t, ts, "frank@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Insert(ctx, backend.CollectionMessages, backend.Record{"scope": "global", "text": "earlier"})
	require.NoError(t, err)

	appended := make(chan chatsync.Message, 4)
	s, err := chatsync.Initialize(ctx, c, chatsync.Config{
		Scope:    "global",
		OnAppend: func(m chatsync.Message) { appended <- m },
	})
	require.NoError(t, err)
	defer s.Teardown()
	require.Equal(t, 1, s.Len())

	require.NoError(t, s.Send(ctx, chatsync.Author{ID: user.ID(), Name: "frank"}, "hi there"))

	select {
	case m := <-appended:
		assert.Equal(t, "hi there", m.Body)
	case <-ctx.Done():
		t.Fatal("echo never arrived")
	}
	assert.Equal(t, 2, s.Len())
}

func TestSubscribeTimesOutWithoutReady(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		<-release
		conn.CloseNow()
	}))
	defer ts.Close()
	defer close(release)

	c, err := New(ts.URL, WithToken("t"), WithHandshakeTimeout(200*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Subscribe(context.Background(), backend.CollectionMessages, backend.EventFilter{}, func(backend.Event) {})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	s, err := chatsync.Initialize(context.Background(), c, chatsync.Config{Scope: "global"})
	require.NotNil(t, s)
	assert.ErrorIs(t, err, chatsync.ErrSubscribeFailed)
	assert.False(t, s.Live())
}

func TestSubscribeDoneWhenServerCloses(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		if err := wsjson.Write(r.Context(), conn, proto.Outbound{Type: proto.OutboundTypeReady, Protocol: proto.ProtocolVersion}); err != nil {
			conn.CloseNow()
			return
		}
		_ = conn.Close(websocket.StatusGoingAway, "restarting")
	}))
	defer ts.Close()

	c, err := New(ts.URL, WithToken("t"))
	require.NoError(t, err)

	sub, err := c.Subscribe(context.Background(), backend.CollectionMessages, backend.EventFilter{}, func(backend.Event) {})
	require.NoError(t, err)

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("feed end was never signalled")
	}
	assert.NoError(t, sub.Unsubscribe())
}

func TestOversizedMessageLeavesFeedIntact(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := newSignedUpClient(t, ts, "alice@example.com")
	bob, _ := newSignedUpClient(t, ts, "bob@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	col := newCollector()
	sub, err := bob.Subscribe(ctx, backend.CollectionMessages, backend.InsertsOnly(map[string]string{"scope": "global"}), col.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = alice.Insert(ctx, backend.CollectionMessages, backend.Record{"scope": "global", "text": strings.Repeat("x", 40<<10)})
	assert.ErrorIs(t, err, backend.ErrInvalidRecord)

	_, err = alice.Insert(ctx, backend.CollectionMessages, backend.Record{"scope": "global", "text": "small follow-up"})
	require.NoError(t, err)

	select {
	case <-col.got:
	case <-ctx.Done():
		t.Fatal("feed stalled after the rejected insert")
	}
	col.mu.Lock()
	assert.Equal(t, "small follow-up", col.events[0].Record.String("text"))
	col.mu.Unlock()

	select {
	case <-sub.Done():
		t.Fatal("feed ended unexpectedly")
	default:
	}
}
