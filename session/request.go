package session

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	logging "github.com/ipfs/go-log/v2"

	"github.com/halvorsen/parlor/parlorerr"
)

var reqlog = logging.Logger("parlor/session")

// requestFrame is the wire shape carried on the "question" channel.
type requestFrame struct {
	ID    uint64 `json:"id"`
	Topic string `json:"topic"`
	Body  any    `json:"body"`
}

// responseFrame is the wire shape carried on the "answer" channel.
type responseFrame struct {
	ID      uint64 `json:"id"`
	Result  any    `json:"result,omitempty"`
	IsError bool   `json:"isError,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Responder is resolved exactly once: either by a matching response frame,
// or by RequestTable.CloseAll when the session closes.
type Responder struct {
	done   chan struct{}
	result any
	err    error
}

// Wait blocks until the responder resolves and returns its outcome.
func (r *Responder) Wait() (any, error) {
	<-r.done
	return r.result, r.err
}

func (r *Responder) resolve(result any) {
	r.result = result
	close(r.done)
}

func (r *Responder) reject(err error) {
	r.err = err
	close(r.done)
}

// RequestTable tracks outstanding asks for one PeerSession. Every emitted
// request either receives exactly one response that resolves it, or the
// session closes and every outstanding responder fails with
// SessionClosed (spec.md §3's RequestTable invariant).
type RequestTable struct {
	nextID  atomic.Uint64
	mu      sync.Mutex
	pending map[uint64]*Responder
	closed  bool
}

func newRequestTable() *RequestTable {
	return &RequestTable{pending: make(map[uint64]*Responder)}
}

// Register allocates a fresh monotonic request id and returns it with its
// Responder.
func (t *RequestTable) Register() (uint64, *Responder) {
	id := t.nextID.Add(1)
	r := &Responder{done: make(chan struct{})}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		r.reject(parlorerr.New(parlorerr.KindSessionClosed, "session already closed", nil))
		return id, r
	}
	t.pending[id] = r
	t.mu.Unlock()
	return id, r
}

// Resolve matches an inbound response frame to its responder. Unknown ids
// are logged and dropped (spec.md §4.4).
func (t *RequestTable) Resolve(raw []byte) {
	var resp responseFrame
	if err := json.Unmarshal(raw, &resp); err != nil {
		reqlog.Warnw("malformed response frame", "err", err)
		return
	}
	t.mu.Lock()
	r, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.mu.Unlock()
	if !ok {
		reqlog.Warnw("response for unknown request id", "id", resp.ID)
		return
	}
	if resp.IsError {
		r.reject(parlorerr.New(parlorerr.KindResponderError, resp.Error, nil))
		return
	}
	r.resolve(resp.Result)
}

// CloseAll fails every outstanding responder with SessionClosed and marks
// the table closed so future Register calls fail immediately.
func (t *RequestTable) CloseAll() {
	t.mu.Lock()
	t.closed = true
	pending := t.pending
	t.pending = make(map[uint64]*Responder)
	t.mu.Unlock()
	for _, r := range pending {
		r.reject(parlorerr.New(parlorerr.KindSessionClosed, "session closed", nil))
	}
}
