package domain

import "encoding/json"

type OperationKind string

const (
	OpAdd          OperationKind = "add"
	OpUpdate       OperationKind = "update"
	OpDelete       OperationKind = "delete"
	OpStartStream  OperationKind = "start-stream"
	OpAppendStream OperationKind = "append-stream"
	OpFinishStream OperationKind = "finish-stream"
	OpClear        OperationKind = "clear"
)

func (k OperationKind) Valid() bool {
	switch k {
	case OpAdd, OpUpdate, OpDelete, OpStartStream, OpAppendStream, OpFinishStream, OpClear:
		return true
	}
	return false
}

// OperationData is the payload of an operation message.
type OperationData struct {
	Collection Collection                 `json:"collection,omitempty"`
	Object     *Object                    `json:"object,omitempty"`
	ObjectID   ObjectID                   `json:"objectId,omitempty"`
	Updates    map[string]json.RawMessage `json:"updates,omitempty"`
	Point      *Point                     `json:"point,omitempty"`
}

// Target returns the id the operation refers to.
func (d *OperationData) Target() ObjectID {
	if d == nil {
		return ""
	}
	if d.ObjectID != "" {
		return d.ObjectID
	}
	if d.Object != nil {
		return d.Object.ID
	}
	return ""
}

type MessageType string

const (
	MessageFullSync     MessageType = "full_sync"
	MessageOperation    MessageType = "operation"
	MessageCursorMove   MessageType = "cursor_move"
	MessageUserInfo     MessageType = "user_info"
	MessageLockRequest  MessageType = "lock_request"
	MessageLockRelease  MessageType = "lock_release"
	MessageLockResponse MessageType = "lock_response"
)

// Message is the single envelope exchanged over the data channel.
// Only the fields relevant to Type are populated.
type Message struct {
	Type      MessageType   `json:"type"`
	SenderID  ParticipantID `json:"senderId"`
	Timestamp int64         `json:"timestamp"`

	Op   OperationKind  `json:"op,omitempty"`
	Data *OperationData `json:"data,omitempty"`

	Objects  []*Object `json:"objects,omitempty"`
	Stickies []*Object `json:"stickies,omitempty"`
	Staged   []*Object `json:"staged,omitempty"`

	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`

	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`

	ObjectID ObjectID      `json:"objectId,omitempty"`
	Granted  *bool         `json:"granted,omitempty"`
	HolderID ParticipantID `json:"holderId,omitempty"`

	// RequestedAt identifies the claim a lock_response answers or a
	// lock_release withdraws; HolderRequestedAt is the refusing holder's claim.
	RequestedAt       int64 `json:"requestedAt,omitempty"`
	HolderRequestedAt int64 `json:"holderRequestedAt,omitempty"`
}
