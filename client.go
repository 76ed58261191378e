package feed

import (
	"context"
	"errors"

	"github.com/golang/glog"
)

type AuthExpiredFunction func()

type FeedClientSettings struct {
	ApiUrl     string
	ChannelUrl string
	// empty disables session persistence
	SessionPath     string
	ChannelSettings *PushChannelSettings
}

func DefaultFeedClientSettings() *FeedClientSettings {
	return &FeedClientSettings{
		ApiUrl:          "https://api.cybercomments.net",
		ChannelUrl:      "wss://channel.cybercomments.net",
		ChannelSettings: DefaultPushChannelSettings(),
	}
}

// FeedClient wires the store, reconciler, loader, push channel, and
// mutation tracker together. This is the surface exposed to the view
// layer: read-only snapshots come from Store(), mutation entry points
// from Tracker().
//
// data flow: a user action mutates the store optimistically and issues a
// request; the push channel (for other sessions) or a follow-up pull (for
// the acting session) delivers the authoritative state; the reconciler
// merges it into the store; views re-render from the store.
type FeedClient struct {
	ctx    context.Context
	cancel context.CancelFunc

	api        *FeedApi
	store      *Store
	reconciler *Reconciler
	loader     *SnapshotLoader
	channel    *PushChannel
	tracker    *MutationTracker

	authExpiredCallbacks *CallbackList[AuthExpiredFunction]
}

func NewFeedClientWithDefaults(ctx context.Context) *FeedClient {
	return NewFeedClient(ctx, DefaultFeedClientSettings())
}

func NewFeedClient(ctx context.Context, settings *FeedClientSettings) *FeedClient {
	cancelCtx, cancel := context.WithCancel(ctx)

	var sessionStore *SessionStore
	if settings.SessionPath != "" {
		sessionStore = NewSessionStore(settings.SessionPath)
	}

	store := NewStoreWithSessionStore(sessionStore)
	api := NewFeedApiWithContext(cancelCtx, settings.ApiUrl)
	reconciler := NewReconciler(store)
	loader := NewSnapshotLoader(api, reconciler)
	channelSettings := settings.ChannelSettings
	if channelSettings == nil {
		channelSettings = DefaultPushChannelSettings()
	}
	channel := NewPushChannel(cancelCtx, settings.ChannelUrl, reconciler, channelSettings)
	tracker := NewMutationTracker(api, store, loader)

	client := &FeedClient{
		ctx:                  cancelCtx,
		cancel:               cancel,
		api:                  api,
		store:                store,
		reconciler:           reconciler,
		loader:               loader,
		channel:              channel,
		tracker:              tracker,
		authExpiredCallbacks: NewCallbackList[AuthExpiredFunction](),
	}

	// logout tears the channel down
	store.AddTeardownCallback(channel.Suspend)

	// state missed while disconnected is recovered only by this pull
	channel.AddConnectedCallback(func() {
		if err := loader.RefreshAll(); err != nil {
			glog.Infof("[c]refresh after connect error = %s\n", err)
		}
	})

	// the 401-equivalent is fatal to the session and globally handled
	api.AddUnauthorizedCallback(client.authExpired)

	return client
}

func (self *FeedClient) Store() *Store {
	return self.store
}

func (self *FeedClient) Tracker() *MutationTracker {
	return self.tracker
}

func (self *FeedClient) Loader() *SnapshotLoader {
	return self.loader
}

func (self *FeedClient) Channel() *PushChannel {
	return self.channel
}

func (self *FeedClient) Api() *FeedApi {
	return self.api
}

// surfaces the must-re-authenticate condition
func (self *FeedClient) AddAuthExpiredCallback(authExpiredCallback AuthExpiredFunction) func() {
	return self.authExpiredCallbacks.Add(authExpiredCallback)
}

func (self *FeedClient) Login(userAuth string, password string) error {
	result, err := self.api.AuthLoginSync(&AuthLoginArgs{
		UserAuth: userAuth,
		Password: password,
	})
	if err != nil {
		return err
	}
	if result.Error != nil {
		return errors.New(result.Error.Message)
	}
	return self.establish(&Session{
		Token: result.Token,
		User:  result.User,
	})
}

func (self *FeedClient) Register(username string, email string, password string) error {
	result, err := self.api.AuthRegisterSync(&AuthRegisterArgs{
		Username: username,
		Email:    email,
		Password: password,
	})
	if err != nil {
		return err
	}
	if result.Error != nil {
		return errors.New(result.Error.Message)
	}
	return self.establish(&Session{
		Token: result.Token,
		User:  result.User,
	})
}

// resumes a persisted session. Returns false if there is none.
func (self *FeedClient) Resume() (bool, error) {
	session := self.store.Session()
	if session == nil {
		return false, nil
	}
	return true, self.establish(session)
}

func (self *FeedClient) establish(session *Session) error {
	self.store.SetSession(session)
	self.api.SetToken(session.Token)
	self.channel.Connect(session.Token)
	// session establishment pull, awaited
	return self.loader.RefreshAll()
}

func (self *FeedClient) Logout() {
	self.api.SetToken("")
	self.store.SetSession(nil)
}

func (self *FeedClient) authExpired() {
	glog.Infof("[c]auth expired\n")
	self.Logout()
	for _, authExpiredCallback := range self.authExpiredCallbacks.Get() {
		authExpiredCallback()
	}
}

func (self *FeedClient) Close() {
	self.cancel()
	self.channel.Close()
	self.api.Close()
}
