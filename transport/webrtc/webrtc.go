// Package webrtc is the default transport.Connection implementation,
// grounded directly on the teacher's internal/call/session.go Pion
// PeerConnection lifecycle (offer/answer/ICE handling, ICE-candidate
// buffering before the remote description is set).
package webrtc

import (
	"sync"

	logging "github.com/ipfs/go-log/v2"
	pion "github.com/pion/webrtc/v4"

	"github.com/halvorsen/parlor/transport"
)

var log = logging.Logger("parlor/transport/webrtc")

// Factory builds Connections backed by pion/webrtc.
type Factory struct{}

func (Factory) NewConnection(cfg transport.Config) (transport.Connection, error) {
	pionCfg := pion.Configuration{}
	for _, s := range cfg.ICEServers {
		pionCfg.ICEServers = append(pionCfg.ICEServers, pion.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	pc, err := pion.NewPeerConnection(pionCfg)
	if err != nil {
		return nil, err
	}
	c := &conn{pc: pc}
	pc.OnICECandidate(func(ic *pion.ICECandidate) {
		if ic == nil {
			return
		}
		c.mu.RLock()
		fn := c.onICECandidate
		c.mu.RUnlock()
		if fn == nil {
			return
		}
		init := ic.ToJSON()
		mid := ""
		if init.SDPMid != nil {
			mid = *init.SDPMid
		}
		idx := uint16(0)
		if init.SDPMLineIndex != nil {
			idx = *init.SDPMLineIndex
		}
		fn(transport.Candidate{Candidate: init.Candidate, SDPMid: mid, SDPMLineIndex: idx})
	})
	pc.OnDataChannel(func(dc *pion.DataChannel) {
		c.mu.RLock()
		fn := c.onDataChannel
		c.mu.RUnlock()
		if fn != nil {
			fn(newDataChannel(dc))
		}
	})
	pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		c.mu.RLock()
		fn := c.onStateChange
		c.mu.RUnlock()
		if fn != nil {
			fn(mapState(s))
		}
	})
	return c, nil
}

func mapState(s pion.PeerConnectionState) transport.ConnectionState {
	switch s {
	case pion.PeerConnectionStateNew:
		return transport.StateNew
	case pion.PeerConnectionStateConnecting:
		return transport.StateChecking
	case pion.PeerConnectionStateConnected:
		return transport.StateConnected
	case pion.PeerConnectionStateDisconnected:
		return transport.StateDisconnected
	case pion.PeerConnectionStateFailed:
		return transport.StateFailed
	case pion.PeerConnectionStateClosed:
		return transport.StateClosed
	default:
		return transport.StateNew
	}
}

type conn struct {
	pc *pion.PeerConnection

	mu            sync.RWMutex
	remoteSet     bool
	pendingICE    []pion.ICECandidateInit
	onICECandidate func(transport.Candidate)
	onDataChannel func(transport.DataChannel)
	onStateChange func(transport.ConnectionState)
}

func (c *conn) CreateDataChannel(label string) (transport.DataChannel, error) {
	dc, err := c.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return newDataChannel(dc), nil
}

func (c *conn) CreateOffer() (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (c *conn) CreateAnswer() (string, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (c *conn) SetLocalDescription(sdp string) error {
	return c.pc.SetLocalDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: sdp})
}

func (c *conn) SetRemoteDescription(sdp string) error {
	typ := pion.SDPTypeOffer
	if c.pc.SignalingState() == pion.SignalingStateHaveLocalOffer {
		typ = pion.SDPTypeAnswer
	}
	if err := c.pc.SetRemoteDescription(pion.SessionDescription{Type: typ, SDP: sdp}); err != nil {
		return err
	}
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pendingICE
	c.pendingICE = nil
	c.mu.Unlock()
	for _, ic := range pending {
		if err := c.pc.AddICECandidate(ic); err != nil {
			log.Warnw("buffered AddICECandidate failed", "err", err)
		}
	}
	return nil
}

func (c *conn) AddICECandidate(cand transport.Candidate) error {
	init := pion.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        &cand.SDPMid,
		SDPMLineIndex: &cand.SDPMLineIndex,
	}
	c.mu.Lock()
	if !c.remoteSet {
		c.pendingICE = append(c.pendingICE, init)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(init)
}

func (c *conn) Close() error { return c.pc.Close() }

func (c *conn) OnICECandidate(fn func(transport.Candidate)) {
	c.mu.Lock()
	c.onICECandidate = fn
	c.mu.Unlock()
}

func (c *conn) OnDataChannel(fn func(transport.DataChannel)) {
	c.mu.Lock()
	c.onDataChannel = fn
	c.mu.Unlock()
}

func (c *conn) OnConnectionStateChange(fn func(transport.ConnectionState)) {
	c.mu.Lock()
	c.onStateChange = fn
	c.mu.Unlock()
}

var _ transport.Connection = (*conn)(nil)
var _ transport.Factory = Factory{}
