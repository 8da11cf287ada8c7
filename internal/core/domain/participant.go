package domain

import "time"

type ParticipantID string

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

type ParticipantStatus string

const (
	StatusConnecting   ParticipantStatus = "connecting"
	StatusConnected    ParticipantStatus = "connected"
	StatusDisconnected ParticipantStatus = "disconnected"
)

type Cursor struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Visible bool    `json:"visible"`
}

// Participant is one member of a room as seen by this node.
type Participant struct {
	ID          ParticipantID     `json:"id"`
	DisplayName string            `json:"displayName"`
	Color       string            `json:"color"`
	Role        Role              `json:"role"`
	Status      ParticipantStatus `json:"status"`
	Cursor      Cursor            `json:"cursor"`
	LastSeenAt  time.Time         `json:"lastSeenAt"`
	IsLocal     bool              `json:"isLocal"`
}
