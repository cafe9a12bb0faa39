// Package wire defines the signaling envelope exchanged over the pub/sub
// bus and the subtopic vocabulary carried inside it.
package wire

import "time"

// Protocol-level constants. DefaultBaseTopic mirrors the teacher's single
// presence-topic constant, generalized to a base+separator+room scheme.
const (
	DefaultBaseTopic = "parlor.room.v1"
	TopicSeparator   = "."
)

// Subtopic names the kind of signaling frame carried in an Envelope.Data.
type Subtopic string

const (
	SubtopicConnect        Subtopic = "connect"
	SubtopicUnload         Subtopic = "unload"
	SubtopicNameChange     Subtopic = "nameChange"
	SubtopicRTCOffer       Subtopic = "RTCOffer"
	SubtopicRTCAnswer      Subtopic = "RTCAnswer"
	SubtopicRTCIceCandidate Subtopic = "RTCIceCandidate"
)

// Envelope is the outer signaling message carried on the pub/sub bus.
type Envelope struct {
	Sender    string   `json:"sender"`
	Timestamp int64    `json:"timestamp"`
	Subtopic  Subtopic `json:"subtopic"`
	Data      any      `json:"data"`
}

// NowMillis returns the current time as epoch milliseconds, matching the
// wire format's u64_millis timestamp field.
func NowMillis() int64 { return time.Now().UnixMilli() }

// New builds an envelope stamped with the current time.
func New(sender string, subtopic Subtopic, data any) Envelope {
	return Envelope{Sender: sender, Timestamp: NowMillis(), Subtopic: subtopic, Data: data}
}

// ConnectData is the payload of a SubtopicConnect envelope: an announce
// carrying the sender's advertised user info.
type ConnectData struct {
	UserInfo map[string]any `json:"userInfo,omitempty"`
}

// NameChangeData is the payload of a SubtopicNameChange envelope.
type NameChangeData struct {
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

// OfferPayload is the nested offer object inside an RTCOffer envelope.
type OfferPayload struct {
	LocalDescription string `json:"localDescription"`
	Target           string `json:"target"`
}

// RTCOfferData is the payload of a SubtopicRTCOffer envelope.
type RTCOfferData struct {
	UserInfo map[string]any `json:"userInfo,omitempty"`
	Offer    OfferPayload   `json:"offer"`
}

// RTCAnswerData is the payload of a SubtopicRTCAnswer envelope.
type RTCAnswerData struct {
	LocalDescription string `json:"localDescription"`
	Target           string `json:"target"`
}

// RTCIceCandidateData is the payload of a SubtopicRTCIceCandidate envelope;
// Candidate is opaque to the wire layer (it is whatever the DirectTransport
// implementation serializes an ICE candidate as).
type RTCIceCandidateData struct {
	Target    string `json:"target"`
	Candidate any    `json:"candidate"`
}
