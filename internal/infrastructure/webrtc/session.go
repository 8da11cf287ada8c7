package webrtc

import (
	"context"

	"peerboard/internal/core/domain"
)

// Session is one negotiated transport to a single remote participant
// carrying one message channel.
type Session interface {
	// CreateOffer opens the local channel and returns the offer once
	// candidate gathering has finished.
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	// CreateAnswer applies a remote offer and returns the answer once
	// candidate gathering has finished.
	CreateAnswer(ctx context.Context, offer domain.SessionDescription) (domain.SessionDescription, error)
	SetAnswer(answer domain.SessionDescription) error
	Send(data []byte) error
	Close() error
}

// SessionEvents are invoked from transport goroutines.
type SessionEvents struct {
	OnOpen    func()
	OnClose   func()
	OnMessage func(data []byte)
	OnFailed  func(err error)
}

type SessionFactory interface {
	NewSession(events SessionEvents) (Session, error)
}
