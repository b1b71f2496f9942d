package groupcli

import (
	"encoding/json"
	"errors"

	"github.com/dgnsrekt/titlebot/internal/state"
)

var (
	// ErrTransport covers connection-level failures talking to the
	// bridge daemon; the caller may retry.
	ErrTransport = errors.New("cli bridge transport failure")
	// ErrClosed is returned once the client has shut down.
	ErrClosed = errors.New("cli bridge client closed")
)

// GroupKind discriminates the two membership-source shapes. Channels
// page their member list; chats return it inline with the info call.
type GroupKind string

const (
	KindChannel GroupKind = "channel"
	KindChat    GroupKind = "chat"
)

func ParseGroupKind(s string) (GroupKind, error) {
	switch GroupKind(s) {
	case KindChannel, KindChat:
		return GroupKind(s), nil
	}
	return "", errors.New("unknown group kind: " + s)
}

// RenameResult is the discriminated outcome of a remote rename. A
// transport failure is an error instead, never a RenameResult.
type RenameResult struct {
	Status string `json:"result"`
}

func (r RenameResult) Success() bool {
	return r.Status == "SUCCESS"
}

// EventTarget identifies the peer an event happened in.
type EventTarget struct {
	PeerID   int64  `json:"peer_id"`
	PeerKind string `json:"peer_type"`
	Title    string `json:"title,omitempty"`
}

// Event is one unsolicited push from the bridge daemon's live stream.
type Event struct {
	Kind string        `json:"event"`
	From *state.Member `json:"from,omitempty"`
	To   *EventTarget  `json:"to,omitempty"`
}

// frame is the single wire shape on the bridge socket: requests and
// replies carry an id, pushes carry an event field.
type frame struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	Event string          `json:"event,omitempty"`
	From  json.RawMessage `json:"from,omitempty"`
	To    json.RawMessage `json:"to,omitempty"`
}

type infoResult struct {
	Title   string         `json:"title"`
	Members []state.Member `json:"members,omitempty"`
}
