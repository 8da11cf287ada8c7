package ports

import (
	"context"
	"time"

	"peerboard/internal/core/domain"
)

// Transport delivers encoded messages to directly connected participants.
type Transport interface {
	Send(id domain.ParticipantID, data []byte) bool
	Broadcast(data []byte) int
	OpenPeers() []domain.ParticipantID
}

// PeerListener receives connection lifecycle events and inbound messages.
// Calls are made from the event loop.
type PeerListener interface {
	PeerConnected(id domain.ParticipantID)
	PeerDisconnected(id domain.ParticipantID, released []domain.ObjectID)
	HandleMessage(from domain.ParticipantID, data []byte)
}

// Renderer is the rendering collaborator. Both calls must not block.
type Renderer interface {
	Render()
	Deselect(id domain.ObjectID)
}

type ConnectionService interface {
	InitiateConnection(ctx context.Context) (domain.SignalPayload, error)
	AcceptOffer(ctx context.Context, offer domain.SignalPayload) (domain.SignalPayload, error)
	AcceptAnswer(ctx context.Context, answer domain.SignalPayload) error
	Disconnect(id domain.ParticipantID) error
	OpenPeers() []domain.ParticipantID
}

type SignalCodec interface {
	Encode(payload domain.SignalPayload) (string, error)
	Decode(token string) (domain.SignalPayload, error)
	InviteLink(baseURL, token string) (string, error)
	FromInviteLink(link string) (domain.SignalPayload, error)
}

// Executor runs fn on the event loop and waits for it to finish.
type Executor interface {
	Do(ctx context.Context, fn func()) error
}

type MetricsRecorder interface {
	MessageReceived(messageType string)
	MessageSent(messageType string, deliveries int)
	OperationApplied(kind string, applied bool)
	LockOutcome(outcome string)
	ParticipantsChanged(online int)
	NegotiationObserved(step string, d time.Duration, err error)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) MessageReceived(string) {}
func (NopMetrics) MessageSent(string, int) {}
func (NopMetrics) OperationApplied(string, bool) {}
func (NopMetrics) LockOutcome(string) {}
func (NopMetrics) ParticipantsChanged(int) {}
func (NopMetrics) NegotiationObserved(string, time.Duration, error) {}
