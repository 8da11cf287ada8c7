package backup

import (
	"context"
	"fmt"

	"peerboard/internal/core/domain"
	"peerboard/pkg/backup"
)

// Restorer reads room snapshots back.
type Restorer struct {
	snapshots *backup.Service
	roomID    domain.RoomID
}

func NewRestorer(snapshots *backup.Service, roomID domain.RoomID) *Restorer {
	return &Restorer{snapshots: snapshots, roomID: roomID}
}

// Load returns the named snapshot, or the newest one for the room when name
// is "latest". It returns domain.ErrRoomNotFound when there is nothing to
// restore.
func (r *Restorer) Load(ctx context.Context, name string) (domain.RoomExport, string, error) {
	if name == "latest" {
		latest, err := r.snapshots.Latest(ctx, string(r.roomID))
		if err != nil {
			return domain.RoomExport{}, "", err
		}
		if latest == "" {
			return domain.RoomExport{}, "", fmt.Errorf("no snapshot for room %s: %w", r.roomID, domain.ErrRoomNotFound)
		}
		name = latest
	}

	var export domain.RoomExport
	if err := r.snapshots.Load(ctx, name, &export); err != nil {
		return domain.RoomExport{}, "", err
	}
	if export.Version == "" {
		return domain.RoomExport{}, "", fmt.Errorf("snapshot %s has no version: %w", name, domain.ErrInvalidImport)
	}
	return export, name, nil
}

// Snapshots lists the stored snapshots for the room, oldest first.
func (r *Restorer) Snapshots(ctx context.Context) ([]string, error) {
	return r.snapshots.List(ctx, string(r.roomID))
}
