// Package transport defines the DirectTransport capability (spec.md §6):
// the narrow contract a platform must provide for end-to-end peer
// connections, with ICE/SDP mechanics delegated entirely to the
// implementation. The default adapter lives in transport/webrtc.
package transport

// Config carries the connection-establishment parameters spec.md §6
// names: ICE servers plus the three RTCConfiguration-style policies.
type Config struct {
	ICEServers     []ICEServer
	TransportPolicy string // e.g. "all", "relay"
	BundlePolicy    string // e.g. "balanced", "max-bundle"
	MuxPolicy       string // e.g. "require"
}

// ICEServer is one STUN/TURN server entry.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// Candidate is an opaque ICE candidate as exchanged on the wire; transport
// implementations marshal/unmarshal their native type to/from this shape.
type Candidate struct {
	Candidate     string
	SDPMid        string
	SDPMLineIndex uint16
}

// DataChannel is a single reliable ordered byte-stream channel.
type DataChannel interface {
	Label() string
	Send(data []byte) error
	Close() error
	// OnMessage registers the handler invoked for every inbound message.
	OnMessage(func(data []byte))
	// OnOpen registers the handler invoked once the channel reports open.
	OnOpen(func())
	// OnClose registers the handler invoked when the channel closes.
	OnClose(func())
}

// ConnectionState mirrors the observable states of the underlying ICE/peer
// connection.
type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateChecking     ConnectionState = "checking"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// Connection is one end-to-end direct connection between two peers.
// It has no event for remote media tracks; only data channels and
// connection state are surfaced.
type Connection interface {
	CreateDataChannel(label string) (DataChannel, error)
	CreateOffer() (sdp string, err error)
	CreateAnswer() (sdp string, err error)
	SetLocalDescription(sdp string) error
	SetRemoteDescription(sdp string) error
	AddICECandidate(c Candidate) error
	Close() error

	OnICECandidate(func(c Candidate))
	OnDataChannel(func(dc DataChannel))
	OnConnectionStateChange(func(state ConnectionState))
}

// Factory constructs new Connections, e.g. transport/webrtc.Factory.
type Factory interface {
	NewConnection(cfg Config) (Connection, error)
}
