package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"peerboard/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

const DefaultChannelLabel = "board-sync"

var errPeerConnectionFailed = errors.New("peer connection failed")

// Config configures pion peer connections.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	ChannelLabel string
}

// PionSessionFactory creates sessions backed by pion peer connections.
type PionSessionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
	label  string
}

func NewPionSessionFactory(cfg Config) (*PionSessionFactory, error) {
	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}

	label := cfg.ChannelLabel
	if label == "" {
		label = DefaultChannelLabel
	}

	return &PionSessionFactory{
		api: webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		config: webrtc.Configuration{
			ICEServers: cfg.ICEServers,
		},
		label: label,
	}, nil
}

func (f *PionSessionFactory) NewSession(events SessionEvents) (Session, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	s := &pionSession{
		pc:     pc,
		label:  f.label,
		events: events,
	}
	pc.OnConnectionStateChange(s.handleConnectionState)
	pc.OnDataChannel(s.handleDataChannel)
	return s, nil
}

type pionSession struct {
	pc     *webrtc.PeerConnection
	label  string
	events SessionEvents

	mu sync.RWMutex
	dc *webrtc.DataChannel
}

func (s *pionSession) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	// unordered, no retransmits
	ordered := false
	maxRetransmits := uint16(0)
	dc, err := s.pc.CreateDataChannel(s.label, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to create data channel: %w", err)
	}
	s.bind(dc)

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	return s.setLocalAndGather(ctx, offer)
}

func (s *pionSession) CreateAnswer(ctx context.Context, offer domain.SessionDescription) (domain.SessionDescription, error) {
	if err := s.pc.SetRemoteDescription(toPion(offer, webrtc.SDPTypeOffer)); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to apply offer: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	return s.setLocalAndGather(ctx, answer)
}

func (s *pionSession) SetAnswer(answer domain.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(toPion(answer, webrtc.SDPTypeAnswer)); err != nil {
		return fmt.Errorf("failed to apply answer: %w", err)
	}
	return nil
}

// setLocalAndGather waits for ICE gathering to complete so the returned
// description carries every candidate.
func (s *pionSession) setLocalAndGather(ctx context.Context, desc webrtc.SessionDescription) (domain.SessionDescription, error) {
	gathered := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(desc); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return domain.SessionDescription{}, fmt.Errorf("candidate gathering: %w", ctx.Err())
	}

	local := s.pc.LocalDescription()
	if local == nil {
		return domain.SessionDescription{}, errors.New("no local description after gathering")
	}
	return domain.SessionDescription{Type: local.Type.String(), SDP: local.SDP}, nil
}

func (s *pionSession) Send(data []byte) error {
	s.mu.RLock()
	dc := s.dc
	s.mu.RUnlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return domain.ErrChannelUnavailable
	}
	return dc.SendText(string(data))
}

func (s *pionSession) Close() error {
	return s.pc.Close()
}

func (s *pionSession) handleDataChannel(dc *webrtc.DataChannel) {
	if dc.Label() != s.label {
		_ = dc.Close()
		return
	}
	s.bind(dc)
}

func (s *pionSession) bind(dc *webrtc.DataChannel) {
	s.mu.Lock()
	s.dc = dc
	s.mu.Unlock()

	dc.OnOpen(s.events.OnOpen)
	dc.OnClose(s.events.OnClose)
	dc.OnError(s.events.OnFailed)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.events.OnMessage(msg.Data)
	})
}

func (s *pionSession) handleConnectionState(state webrtc.PeerConnectionState) {
	if state == webrtc.PeerConnectionStateFailed {
		s.events.OnFailed(errPeerConnectionFailed)
	}
}

func toPion(d domain.SessionDescription, fallback webrtc.SDPType) webrtc.SessionDescription {
	t := webrtc.NewSDPType(d.Type)
	if t == webrtc.SDPType(webrtc.Unknown) {
		t = fallback
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}
}
