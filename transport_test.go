package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/gorilla/websocket"
)

// in-memory stand-in for the push channel endpoint
type testPushServer struct {
	token      string
	httpServer *httptest.Server

	connectCount atomic.Int64

	mutex sync.Mutex
	conns []*websocket.Conn
}

func newTestPushServer(t *testing.T, token string) *testPushServer {
	server := &testPushServer{
		token: token,
	}
	upgrader := &websocket.Upgrader{}
	server.httpServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		// auth handshake
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		envelope := &eventEnvelope{}
		if err := json.Unmarshal(message, envelope); err != nil {
			return
		}
		authArgs := &channelAuthArgs{}
		if err := json.Unmarshal(envelope.Data, authArgs); err != nil {
			return
		}
		if envelope.Event != eventAuth || authArgs.Token != server.token {
			ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"error"}`))
			return
		}
		if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"auth"}`)); err != nil {
			return
		}

		server.mutex.Lock()
		server.conns = append(server.conns, ws)
		server.mutex.Unlock()
		server.connectCount.Add(1)

		// drain pings until the client or the test closes the conn
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.httpServer.Close)
	return server
}

func (self *testPushServer) url() string {
	return "ws" + strings.TrimPrefix(self.httpServer.URL, "http")
}

func (self *testPushServer) send(t *testing.T, event *Event) {
	message, err := EncodeEvent(event)
	assert.Equal(t, err, nil)

	self.mutex.Lock()
	defer self.mutex.Unlock()
	for _, ws := range self.conns {
		ws.WriteMessage(websocket.TextMessage, message)
	}
}

func (self *testPushServer) closeConns() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	for _, ws := range self.conns {
		ws.Close()
	}
	self.conns = []*websocket.Conn{}
}

func testChannelSettings() *PushChannelSettings {
	settings := DefaultPushChannelSettings()
	settings.ReconnectTimeout = 200 * time.Millisecond
	settings.PingTimeout = 50 * time.Millisecond
	return settings
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	endTime := time.Now().Add(timeout)
	for time.Now().Before(endTime) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestChannelConnectAndForward(t *testing.T) {
	server := newTestPushServer(t, "test-token")

	store := NewStore()
	reconciler := NewReconciler(store)
	channel := NewPushChannel(context.Background(), server.url(), reconciler, testChannelSettings())
	defer channel.Close()

	assert.Equal(t, channel.State(), ChannelStateDisconnected)

	channel.Connect("test-token")
	waitFor(t, 5*time.Second, func() bool {
		return channel.State() == ChannelStateConnected
	})
	waitFor(t, 5*time.Second, func() bool {
		return server.connectCount.Load() == 1
	})

	// a second connect with the same token is a no-op
	channel.Connect("test-token")
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, server.connectCount.Load(), int64(1))

	// pushed events reach the store in delivery order
	a := testComment("a", 0)
	server.send(t, newCommentEvent(a))
	server.send(t, likeUpdateEvent(a.CommentId, 4))

	waitFor(t, 5*time.Second, func() bool {
		comments := store.Comments()
		return len(comments) == 1 && comments[0].LikeCount == 4
	})
}

func TestChannelReconnect(t *testing.T) {
	server := newTestPushServer(t, "test-token")

	store := NewStore()
	reconciler := NewReconciler(store)
	channel := NewPushChannel(context.Background(), server.url(), reconciler, testChannelSettings())
	defer channel.Close()

	connectedCount := atomic.Int64{}
	channel.AddConnectedCallback(func() {
		connectedCount.Add(1)
	})

	channel.Connect("test-token")
	waitFor(t, 5*time.Second, func() bool {
		return server.connectCount.Load() == 1
	})

	server.closeConns()

	// the channel redials on its own and fires the connected callback again
	waitFor(t, 5*time.Second, func() bool {
		return server.connectCount.Load() == 2
	})
	waitFor(t, 5*time.Second, func() bool {
		return channel.State() == ChannelStateConnected
	})
	waitFor(t, 5*time.Second, func() bool {
		return connectedCount.Load() == 2
	})
}

func TestChannelSuspend(t *testing.T) {
	server := newTestPushServer(t, "test-token")

	store := NewStore()
	reconciler := NewReconciler(store)
	channel := NewPushChannel(context.Background(), server.url(), reconciler, testChannelSettings())
	defer channel.Close()

	channel.Connect("test-token")
	waitFor(t, 5*time.Second, func() bool {
		return channel.State() == ChannelStateConnected
	})
	waitFor(t, 5*time.Second, func() bool {
		return server.connectCount.Load() == 1
	})

	channel.Suspend()
	assert.Equal(t, channel.State(), ChannelStateSuspended)

	// no reconnect while suspended
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, channel.State(), ChannelStateSuspended)
	assert.Equal(t, server.connectCount.Load(), int64(1))

	// a fresh connect exits suspension
	channel.Connect("test-token")
	waitFor(t, 5*time.Second, func() bool {
		return channel.State() == ChannelStateConnected
	})
	waitFor(t, 5*time.Second, func() bool {
		return server.connectCount.Load() == 2
	})
}

func TestChannelAuthRejected(t *testing.T) {
	server := newTestPushServer(t, "test-token")

	store := NewStore()
	reconciler := NewReconciler(store)
	channel := NewPushChannel(context.Background(), server.url(), reconciler, testChannelSettings())
	defer channel.Close()

	channel.Connect("bad-token")
	waitFor(t, 5*time.Second, func() bool {
		return channel.State() == ChannelStateDisconnected
	})
	assert.Equal(t, server.connectCount.Load(), int64(0))
}
