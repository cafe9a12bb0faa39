package transport

import "sync"

// FakePair builds two in-process Connections wired directly to each other,
// for tests that don't want a real ICE/SDP negotiation. SDP strings are
// opaque tokens here, not real SDP — only the fake transport interprets
// them.
func FakePair() (a, b Connection) {
	ca := &fakeConn{}
	cb := &fakeConn{}
	ca.peer = cb
	cb.peer = ca
	return ca, cb
}

type fakeConn struct {
	mu   sync.Mutex
	peer *fakeConn

	channels map[string]*fakeChannel

	onICECandidate func(Candidate)
	onDataChannel  func(DataChannel)
	onStateChange  func(ConnectionState)
}

func (c *fakeConn) CreateDataChannel(label string) (DataChannel, error) {
	c.mu.Lock()
	if c.channels == nil {
		c.channels = make(map[string]*fakeChannel)
	}
	ch := &fakeChannel{label: label}
	c.channels[label] = ch
	c.mu.Unlock()

	// Mirror on the peer so writes land somewhere, as if negotiated.
	c.peer.mu.Lock()
	if c.peer.channels == nil {
		c.peer.channels = make(map[string]*fakeChannel)
	}
	peerCh, ok := c.peer.channels[label]
	if !ok {
		peerCh = &fakeChannel{label: label}
		c.peer.channels[label] = peerCh
	}
	c.peer.mu.Unlock()
	ch.peer = peerCh
	peerCh.peer = ch

	if fn := c.peer.onDataChannel; fn != nil {
		fn(peerCh)
	}
	return ch, nil
}

func (c *fakeConn) CreateOffer() (string, error)  { return "fake-offer", nil }
func (c *fakeConn) CreateAnswer() (string, error) { return "fake-answer", nil }
func (c *fakeConn) SetLocalDescription(string) error  { return nil }
func (c *fakeConn) SetRemoteDescription(string) error { return nil }
func (c *fakeConn) AddICECandidate(Candidate) error   { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	fn := c.onStateChange
	c.mu.Unlock()
	// Delivered on its own goroutine, as pion does, so a state handler that
	// itself calls Close does not re-enter the caller's Close.
	if fn != nil {
		go fn(StateClosed)
	}
	return nil
}

func (c *fakeConn) OnICECandidate(fn func(Candidate))            { c.onICECandidate = fn }
func (c *fakeConn) OnDataChannel(fn func(DataChannel))            { c.onDataChannel = fn }
func (c *fakeConn) OnConnectionStateChange(fn func(ConnectionState)) { c.onStateChange = fn }

// SimulateConnected fires both sides' connection-state callback with
// StateConnected, and opens every channel created so far on both ends.
func SimulateConnected(a, b Connection) {
	fa, fb := a.(*fakeConn), b.(*fakeConn)
	for _, ch := range fa.channels {
		ch.fireOpen()
	}
	for _, ch := range fb.channels {
		ch.fireOpen()
	}
	if fa.onStateChange != nil {
		fa.onStateChange(StateConnected)
	}
	if fb.onStateChange != nil {
		fb.onStateChange(StateConnected)
	}
}

type fakeChannel struct {
	mu      sync.Mutex
	label   string
	peer    *fakeChannel
	onMsg   func([]byte)
	onOpen  func()
	onClose func()
	opened  bool
}

func (f *fakeChannel) Label() string { return f.label }

func (f *fakeChannel) Send(data []byte) error {
	f.mu.Lock()
	peer := f.peer
	f.mu.Unlock()
	if peer == nil {
		return nil
	}
	peer.mu.Lock()
	fn := peer.onMsg
	peer.mu.Unlock()
	if fn != nil {
		fn(data)
	}
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	fn := f.onClose
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (f *fakeChannel) OnMessage(fn func([]byte)) {
	f.mu.Lock()
	f.onMsg = fn
	f.mu.Unlock()
}

func (f *fakeChannel) OnOpen(fn func()) {
	f.mu.Lock()
	f.onOpen = fn
	already := f.opened
	f.mu.Unlock()
	if already && fn != nil {
		fn()
	}
}

func (f *fakeChannel) OnClose(fn func()) {
	f.mu.Lock()
	f.onClose = fn
	f.mu.Unlock()
}

func (f *fakeChannel) fireOpen() {
	f.mu.Lock()
	if f.opened {
		f.mu.Unlock()
		return
	}
	f.opened = true
	fn := f.onOpen
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

var _ Connection = (*fakeConn)(nil)
var _ DataChannel = (*fakeChannel)(nil)
