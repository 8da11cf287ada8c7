// Package backup writes periodic room snapshots and restores them.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"sync"
	"time"

	"peerboard/internal/core/domain"
	"peerboard/internal/core/ports"
	"peerboard/pkg/backup"

	"go.uber.org/zap"
)

// Exporter produces the portable form of the room. It is called on the
// event loop.
type Exporter interface {
	Export() domain.RoomExport
}

type Config struct {
	Interval time.Duration
	Keep     int // snapshots kept per room, 0 keeps all
}

// Scheduler snapshots the room on a fixed interval. A tick is skipped when the
// board has not changed since the last snapshot.
type Scheduler struct {
	snapshots *backup.Service
	loop      ports.Executor
	rooms     Exporter
	roomID    domain.RoomID
	cfg       Config
	logger    *zap.SugaredLogger

	mu         sync.Mutex
	lastDigest [sha256.Size]byte
	written    bool

	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewScheduler(snapshots *backup.Service, loop ports.Executor, rooms Exporter, roomID domain.RoomID, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		snapshots: snapshots,
		loop:      loop,
		rooms:     rooms,
		roomID:    roomID,
		cfg:       cfg,
		logger:    logger,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.snapshot(ctx, false); err != nil {
				s.logger.Warnw("scheduled snapshot failed", "room_id", s.roomID, "error", err)
			}
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the schedule and waits for an in-flight snapshot.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.done
}

// SnapshotNow writes a snapshot even if nothing changed. It returns the
// snapshot name.
func (s *Scheduler) SnapshotNow(ctx context.Context) (string, error) {
	return s.snapshot(ctx, true)
}

func (s *Scheduler) snapshot(ctx context.Context, force bool) (string, error) {
	var export domain.RoomExport
	if err := s.loop.Do(ctx, func() { export = s.rooms.Export() }); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	digest, err := contentDigest(export)
	if err != nil {
		return "", err
	}
	if !force && s.written && digest == s.lastDigest {
		return "", nil
	}

	name, err := s.snapshots.Create(ctx, string(s.roomID), export)
	if err != nil {
		return "", err
	}
	s.lastDigest = digest
	s.written = true
	s.logger.Infow("room snapshot written", "room_id", s.roomID, "snapshot", name, "objects", export.ObjectCount)

	if removed, err := s.snapshots.Prune(ctx, string(s.roomID), s.cfg.Keep); err != nil {
		s.logger.Warnw("failed to prune snapshots", "room_id", s.roomID, "error", err)
	} else if removed > 0 {
		s.logger.Debugw("pruned old snapshots", "room_id", s.roomID, "removed", removed)
	}
	return name, nil
}

// contentDigest covers the board content only, not the export timestamps.
func contentDigest(export domain.RoomExport) ([sha256.Size]byte, error) {
	data, err := json.Marshal(struct {
		Objects  []*domain.Object `json:"objects"`
		Stickies []*domain.Object `json:"stickies"`
	}{export.Objects, export.Stickies})
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(data), nil
}
