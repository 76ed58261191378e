package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/gorilla/websocket"
)

type ChannelState string

const (
	ChannelStateDisconnected ChannelState = "disconnected"
	ChannelStateConnecting   ChannelState = "connecting"
	ChannelStateConnected    ChannelState = "connected"
	// entered when the session is cleared. Exited only by a new
	// Connect call with a fresh token.
	ChannelStateSuspended ChannelState = "suspended"
)

type PushChannelSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultPushChannelSettings() *PushChannelSettings {
	return &PushChannelSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
	}
}

type ConnectedFunction func()

type channelAuthArgs struct {
	Token string `json:"token"`
}

// PushChannel owns the lifecycle of the persistent channel. Decoded events
// are forwarded to the reconciler one at a time in delivery order, without
// buffering or coalescing. No events are synthesized for gaps: state missed
// while disconnected is recovered by the snapshot pull that the connected
// callbacks trigger after every (re)connect.
//
// the channel connection is a single shared resource per session.
// only this adapter opens and closes it.
type PushChannel struct {
	ctx    context.Context
	cancel context.CancelFunc

	channelUrl string
	reconciler *Reconciler

	settings *PushChannelSettings

	connectedCallbacks *CallbackList[ConnectedFunction]

	stateMonitor *Monitor

	stateLock sync.Mutex
	state     ChannelState
	token     string
	runCancel context.CancelFunc
}

func NewPushChannelWithDefaults(ctx context.Context, channelUrl string, reconciler *Reconciler) *PushChannel {
	return NewPushChannel(ctx, channelUrl, reconciler, DefaultPushChannelSettings())
}

func NewPushChannel(ctx context.Context, channelUrl string, reconciler *Reconciler, settings *PushChannelSettings) *PushChannel {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &PushChannel{
		ctx:                cancelCtx,
		cancel:             cancel,
		channelUrl:         channelUrl,
		reconciler:         reconciler,
		settings:           settings,
		connectedCallbacks: NewCallbackList[ConnectedFunction](),
		stateMonitor:       NewMonitor(),
		state:              ChannelStateDisconnected,
	}
}

func (self *PushChannel) State() ChannelState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

// notified on every state transition
func (self *PushChannel) StateMonitor() *Monitor {
	return self.stateMonitor
}

// called after every successful connect, including reconnects.
// the snapshot pull after reconnect is mandatory and belongs here.
func (self *PushChannel) AddConnectedCallback(connectedCallback ConnectedFunction) func() {
	return self.connectedCallbacks.Add(connectedCallback)
}

// idempotent per session: a second call while already connecting or
// connected with the same token is a no-op, not a second channel.
func (self *PushChannel) Connect(token string) {
	defer self.stateMonitor.NotifyAll()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.token == token {
		switch self.state {
		case ChannelStateConnecting, ChannelStateConnected:
			return
		}
	}

	if self.runCancel != nil {
		self.runCancel()
	}

	runCtx, runCancel := context.WithCancel(self.ctx)
	self.runCancel = runCancel
	self.state = ChannelStateConnecting
	self.token = token

	go self.run(runCtx, token)
}

// tears down the connection and stops reconnecting until the next
// Connect with a fresh token
func (self *PushChannel) Suspend() {
	defer self.stateMonitor.NotifyAll()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.runCancel != nil {
		self.runCancel()
		self.runCancel = nil
	}
	self.state = ChannelStateSuspended
	self.token = ""
}

func (self *PushChannel) setRunState(runCtx context.Context, state ChannelState) {
	defer self.stateMonitor.NotifyAll()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	// a canceled run no longer owns the state
	if runCtx.Err() != nil {
		return
	}
	self.state = state
}

func (self *PushChannel) run(runCtx context.Context, token string) {
	authBytes, err := json.Marshal(&channelAuthArgs{
		Token: token,
	})
	if err != nil {
		return
	}
	authMessage, err := json.Marshal(&eventEnvelope{
		Event: eventAuth,
		Data:  authBytes,
	})
	if err != nil {
		return
	}

	for {
		connect := func() (*websocket.Conn, error) {
			dialer := &websocket.Dialer{
				HandshakeTimeout: self.settings.WsHandshakeTimeout,
			}
			ws, _, err := dialer.DialContext(runCtx, self.channelUrl, nil)
			if err != nil {
				return nil, err
			}

			success := false
			defer func() {
				if !success {
					ws.Close()
				}
			}()

			ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, authMessage); err != nil {
				return nil, err
			}
			ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
			_, message, err := ws.ReadMessage()
			if err != nil {
				return nil, err
			}
			// verify the auth ack
			ack := &eventEnvelope{}
			if err := json.Unmarshal(message, ack); err != nil {
				return nil, err
			}
			if ack.Event != eventAuth {
				return nil, fmt.Errorf("auth response error: %s", ack.Event)
			}

			success = true
			return ws, nil
		}

		ws, err := connect()
		if err != nil {
			glog.Infof("[ch]auth error = %s\n", err)
			self.setRunState(runCtx, ChannelStateDisconnected)
			reconnect := NewReconnect(self.settings.ReconnectTimeout)
			select {
			case <-runCtx.Done():
				return
			case <-reconnect.After():
				self.setRunState(runCtx, ChannelStateConnecting)
				continue
			}
		}

		self.setRunState(runCtx, ChannelStateConnected)
		for _, connectedCallback := range self.connectedCallbacks.Get() {
			go connectedCallback()
		}

		self.handle(runCtx, ws)

		self.setRunState(runCtx, ChannelStateDisconnected)
		reconnect := NewReconnect(self.settings.ReconnectTimeout)
		select {
		case <-runCtx.Done():
			return
		case <-reconnect.After():
			self.setRunState(runCtx, ChannelStateConnecting)
		}
	}
}

func (self *PushChannel) handle(runCtx context.Context, ws *websocket.Conn) {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(runCtx)
	defer handleCancel()

	// keepalive
	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, make([]byte, 0)); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-handleCtx.Done():
			return
		default:
		}

		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			glog.Infof("[ch]read error = %s\n", err)
			return
		}

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			if len(message) == 0 {
				// ping
				glog.V(2).Infof("[ch]ping\n")
				continue
			}

			event, err := DecodeEvent(message)
			if err != nil {
				glog.V(1).Infof("[ch]skip message = %s\n", err)
				continue
			}
			glog.V(2).Infof("[ch]<-%s\n", event.Name)
			self.reconciler.Apply(event)
		}
	}
}

func (self *PushChannel) Close() {
	self.cancel()
}
