package feed

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func newTestFeedClient(t *testing.T, apiServer *testFeedServer, pushServer *testPushServer, sessionPath string) *FeedClient {
	httpServer := apiServer.httpServer
	client := NewFeedClient(context.Background(), &FeedClientSettings{
		ApiUrl:          httpServer.URL,
		ChannelUrl:      pushServer.url(),
		SessionPath:     sessionPath,
		ChannelSettings: testChannelSettings(),
	})
	t.Cleanup(client.Close)
	return client
}

func TestClientLoginEstablishesSession(t *testing.T) {
	apiServer := newTestFeedServer(t)
	apiServer.seedComment(testComment("welcome", 0))
	pushServer := newTestPushServer(t, apiServer.token)

	client := newTestFeedClient(t, apiServer, pushServer, "")

	err := client.Login("brien", "hunter2")
	assert.Equal(t, err, nil)

	// session, channel, and the establishment pull
	session := client.Store().Session()
	assert.NotEqual(t, session, nil)
	assert.Equal(t, session.Token, apiServer.token)
	assert.Equal(t, len(client.Store().Comments()), 1)
	waitFor(t, 5*time.Second, func() bool {
		return client.Channel().State() == ChannelStateConnected
	})

	// pushed events flow through to the store. Seeded server-side too so
	// a concurrent snapshot pull cannot supersede the pushed entry.
	comment := testComment("pushed", 0)
	apiServer.seedComment(comment)
	pushServer.send(t, newCommentEvent(comment))
	waitFor(t, 5*time.Second, func() bool {
		return len(client.Store().Comments()) == 2
	})
}

func TestClientLogoutSuspendsChannel(t *testing.T) {
	apiServer := newTestFeedServer(t)
	pushServer := newTestPushServer(t, apiServer.token)

	client := newTestFeedClient(t, apiServer, pushServer, "")

	assert.Equal(t, client.Login("brien", "hunter2"), nil)
	waitFor(t, 5*time.Second, func() bool {
		return client.Channel().State() == ChannelStateConnected
	})

	client.Logout()

	assert.Equal(t, client.Store().Session(), nil)
	assert.Equal(t, len(client.Store().Comments()), 0)
	assert.Equal(t, client.Channel().State(), ChannelStateSuspended)
}

func TestClientResume(t *testing.T) {
	apiServer := newTestFeedServer(t)
	pushServer := newTestPushServer(t, apiServer.token)
	sessionPath := filepath.Join(t.TempDir(), "session.json")

	client1 := newTestFeedClient(t, apiServer, pushServer, sessionPath)
	assert.Equal(t, client1.Login("brien", "hunter2"), nil)
	client1.Close()

	// a fresh client resumes from the persisted (token, user) pair
	client2 := newTestFeedClient(t, apiServer, pushServer, sessionPath)
	resumed, err := client2.Resume()
	assert.Equal(t, resumed, true)
	assert.Equal(t, err, nil)
	assert.Equal(t, client2.Store().Session().Token, apiServer.token)
	waitFor(t, 5*time.Second, func() bool {
		return client2.Channel().State() == ChannelStateConnected
	})

	// without a persisted session there is nothing to resume
	client3 := newTestFeedClient(t, apiServer, pushServer, "")
	resumed, err = client3.Resume()
	assert.Equal(t, resumed, false)
	assert.Equal(t, err, nil)
}

func TestClientAuthExpired(t *testing.T) {
	apiServer := newTestFeedServer(t)
	pushServer := newTestPushServer(t, apiServer.token)

	client := newTestFeedClient(t, apiServer, pushServer, "")
	assert.Equal(t, client.Login("brien", "hunter2"), nil)

	// let the pull after connect settle so the only 401 is ours
	waitFor(t, 5*time.Second, func() bool {
		return client.Channel().State() == ChannelStateConnected
	})
	time.Sleep(300 * time.Millisecond)

	authExpiredCount := 0
	client.AddAuthExpiredCallback(func() {
		authExpiredCount += 1
	})

	apiServer.setUnauthorized(true)
	err := client.Loader().RefreshComments()
	assert.NotEqual(t, err, nil)

	// the 401-equivalent clears the session globally
	assert.Equal(t, client.Store().Session(), nil)
	assert.Equal(t, client.Channel().State(), ChannelStateSuspended)
	assert.Equal(t, authExpiredCount, 1)
}
