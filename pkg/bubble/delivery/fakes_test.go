package delivery

import (
	"context"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/go-go-golems/chatbubble/pkg/bubble/httpapi"
	"github.com/go-go-golems/chatbubble/pkg/bubble/transport"
)

type connectCall struct {
	URL    string
	Params url.Values
}

// fakeTransport lets tests drive socket lifecycle events by hand.
type fakeTransport struct {
	mu         sync.Mutex
	obs        transport.Observer
	active     bool
	open       bool
	connects   []connectCall
	sent       [][]byte
	sendOK     bool
	connectErr error
	closes     int
}

var _ transport.Transport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sendOK: true}
}

func (f *fakeTransport) Connect(rawURL string, params url.Values, obs transport.Observer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	if f.active {
		return transport.ErrAlreadyActive
	}
	f.connects = append(f.connects, connectCall{URL: rawURL, Params: params})
	f.obs = obs
	f.active = true
	return nil
}

func (f *fakeTransport) Send(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open || !f.sendOK {
		return false
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return true
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	f.closes++
	if !f.active {
		f.mu.Unlock()
		return
	}
	obs := f.obs
	f.active, f.open, f.obs = false, false, nil
	f.mu.Unlock()
	obs.OnClose(websocket.CloseNormalClosure, "closed by client")
}

func (f *fakeTransport) observer() transport.Observer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.obs
}

// accept simulates a successful handshake.
func (f *fakeTransport) accept() {
	f.mu.Lock()
	obs := f.obs
	f.open = true
	f.mu.Unlock()
	obs.OnOpen()
}

func (f *fakeTransport) deliver(raw string) {
	f.observer().OnMessage([]byte(raw))
}

// drop simulates the remote end going away (or a failed dial when never opened).
func (f *fakeTransport) drop(code int, reason string) {
	f.mu.Lock()
	obs := f.obs
	f.active, f.open, f.obs = false, false, nil
	f.mu.Unlock()
	if code == websocket.CloseAbnormalClosure {
		obs.OnError(context.DeadlineExceeded)
	}
	obs.OnClose(code, reason)
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) setSendOK(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendOK = ok
}

type fakeAsker struct {
	mu       sync.Mutex
	requests []httpapi.AskRequest
	resp     httpapi.AskResponse
	err      error
	block    chan struct{}
	started  chan struct{}
}

func (a *fakeAsker) Ask(ctx context.Context, req httpapi.AskRequest) (httpapi.AskResponse, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	block, started := a.block, a.started
	resp, err := a.resp, a.err
	a.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return httpapi.AskResponse{}, ctx.Err()
		}
	}
	return resp, err
}

func (a *fakeAsker) requestCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}
