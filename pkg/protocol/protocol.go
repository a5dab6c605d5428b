// Package protocol defines the JSON chat envelope exchanged on both
// transports and the framing rules clients rely on.
package protocol

import "encoding/json"

// ReadBufferSize is the chunk size used when reading from either
// transport. Stream messages carry no length prefix or delimiter; one
// read is expected to yield one envelope, matching the existing clients.
// Changing this, or introducing delimiters, would break interop.
const ReadBufferSize = 1024

// Envelope type tags.
const (
	TypeRegister    = "register"
	TypeHeartbeat   = "heartbeat"
	TypeMessage     = "message"
	TypePrivate     = "private"
	TypePrivateSent = "private_sent"
	TypeServer      = "server"
	TypeError       = "error"
	TypePublic      = "public"
	TypeUserList    = "user_list"
)

// Envelope is the single JSON object shape used for every protocol
// message. Only the fields relevant to a given Type are populated.
type Envelope struct {
	Type     string   `json:"type,omitempty"`
	Username string   `json:"username,omitempty"`
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
	Message  string   `json:"message"`
	Users    []string `json:"users,omitempty"`
}

// Kind classifies inbound envelopes so the listeners can switch
// exhaustively instead of comparing type strings at every site.
type Kind int

const (
	KindUnknown Kind = iota
	KindRegister
	KindHeartbeat
	KindPublic
	KindPrivate
)

// Kind returns the inbound classification of the envelope.
func (e *Envelope) Kind() Kind {
	switch e.Type {
	case TypeRegister:
		return KindRegister
	case TypeHeartbeat:
		return KindHeartbeat
	case TypeMessage:
		return KindPublic
	case TypePrivate:
		return KindPrivate
	default:
		return KindUnknown
	}
}

// Decode parses one envelope from a single read chunk or datagram.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func marshal(e Envelope) []byte {
	data, err := json.Marshal(e)
	if err != nil {
		// Envelope holds only strings and string slices; this cannot fail.
		panic("protocol: marshal: " + err.Error())
	}
	return data
}

// ServerNotice builds a {type:"server"} envelope carrying an
// informational message (welcome, join and leave notices).
func ServerNotice(text string) []byte {
	return marshal(Envelope{Type: TypeServer, Message: text})
}

// Public builds the broadcast envelope for a public chat message.
func Public(from, text string) []byte {
	return marshal(Envelope{Type: TypePublic, From: from, Message: text})
}

// Private builds the delivery envelope for a private message.
func Private(from, text string) []byte {
	return marshal(Envelope{Type: TypePrivate, From: from, Message: text})
}

// PrivateSent builds the confirmation returned to a private message's
// sender after a successful delivery attempt.
func PrivateSent(to, text string) []byte {
	return marshal(Envelope{Type: TypePrivateSent, To: to, Message: text})
}

// ErrorNotice builds a {type:"error"} envelope surfaced to a sender,
// e.g. when a private recipient is not online.
func ErrorNotice(text string) []byte {
	return marshal(Envelope{Type: TypeError, Message: text})
}

// UserList serializes the online set. The users field is always present,
// even when empty, so receivers can clear their view of the room.
func UserList(users []string) []byte {
	if users == nil {
		users = []string{}
	}
	data, err := json.Marshal(struct {
		Type  string   `json:"type"`
		Users []string `json:"users"`
	}{TypeUserList, users})
	if err != nil {
		panic("protocol: marshal user list: " + err.Error())
	}
	return data
}
