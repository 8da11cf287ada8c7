package domain

type SignalKind string

const (
	SignalOffer  SignalKind = "offer"
	SignalAnswer SignalKind = "answer"
)

type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// SignalPayload is exchanged out of band to bootstrap a connection.
// On an offer TargetID is the temporary id assigned to the invitee; on an
// answer it names the pending connection being answered.
type SignalPayload struct {
	Kind               SignalKind         `json:"kind"`
	ParticipantID      ParticipantID      `json:"participantId"`
	TargetID           ParticipantID      `json:"targetId,omitempty"`
	DisplayName        string             `json:"displayName,omitempty"`
	Color              string             `json:"color,omitempty"`
	RoomID             RoomID             `json:"roomId,omitempty"`
	SessionDescription SessionDescription `json:"sessionDescription"`
	Timestamp          int64              `json:"timestamp"`
}
