// Package backup keeps timestamped JSON snapshots in a Storage.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

const (
	timeLayout = "20060102-150405.000"
	extension  = ".json"
)

// Storage is where snapshot files live.
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Service names snapshots "<prefix>-<timestamp>.json" so that names sort
// by creation time.
type Service struct {
	storage Storage
	now     func() time.Time
}

func NewService(storage Storage) *Service {
	return &Service{storage: storage, now: time.Now}
}

// Create stores v as JSON and returns the snapshot name.
func (s *Service) Create(ctx context.Context, prefix string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	name := fmt.Sprintf("%s-%s%s", prefix, s.now().UTC().Format(timeLayout), extension)
	if err := s.storage.Save(ctx, name, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to save snapshot: %w", err)
	}
	return name, nil
}

// Load decodes the named snapshot into v.
func (s *Service) Load(ctx context.Context, name string, v any) error {
	r, err := s.storage.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load snapshot %s: %w", name, err)
	}
	defer r.Close()

	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("failed to decode snapshot %s: %w", name, err)
	}
	return nil
}

// List returns the snapshots for prefix, oldest first.
func (s *Service) List(ctx context.Context, prefix string) ([]string, error) {
	names, err := s.storage.List(ctx, prefix+"-")
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, name := range names {
		if strings.HasSuffix(name, extension) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Latest returns the newest snapshot name, or "" when there is none.
func (s *Service) Latest(ctx context.Context, prefix string) (string, error) {
	names, err := s.List(ctx, prefix)
	if err != nil || len(names) == 0 {
		return "", err
	}
	return names[len(names)-1], nil
}

// Prune deletes all but the newest keep snapshots and returns how many were
// removed. keep <= 0 keeps everything.
func (s *Service) Prune(ctx context.Context, prefix string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	names, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	removed := 0
	for len(names)-removed > keep {
		if err := s.storage.Delete(ctx, names[removed]); err != nil {
			return removed, fmt.Errorf("failed to delete snapshot %s: %w", names[removed], err)
		}
		removed++
	}
	return removed, nil
}
