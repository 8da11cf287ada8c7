package services

import (
	"sort"
	"sync"
	"time"

	"peerboard/internal/core/domain"
)

// PeerRegistry tracks the participants of the room, including the local one.
type PeerRegistry struct {
	mu           sync.RWMutex
	participants map[domain.ParticipantID]*domain.Participant
	localID      domain.ParticipantID
	now          func() time.Time
}

func NewPeerRegistry(local domain.Participant) *PeerRegistry {
	r := &PeerRegistry{
		participants: make(map[domain.ParticipantID]*domain.Participant),
		now:          time.Now,
	}
	r.AddLocal(local)
	return r
}

// AddLocal installs the local participant, replacing any previous one.
func (r *PeerRegistry) AddLocal(p domain.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.localID != "" {
		delete(r.participants, r.localID)
	}
	if p.Role == "" {
		p.Role = domain.RoleGuest
	}
	p.IsLocal = true
	p.Status = domain.StatusConnected
	p.LastSeenAt = r.now()
	r.participants[p.ID] = &p
	r.localID = p.ID
}

// Add registers a remote participant with status connecting. It reports
// false when the id is already known; in that case only non-empty
// descriptive fields are refreshed.
func (r *PeerRegistry) Add(id domain.ParticipantID, name, color string, role domain.Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.participants[id]; ok {
		if existing.IsLocal {
			return false
		}
		if name != "" {
			existing.DisplayName = name
		}
		if color != "" {
			existing.Color = color
		}
		return false
	}

	r.participants[id] = &domain.Participant{
		ID:          id,
		DisplayName: name,
		Color:       color,
		Role:        role,
		Status:      domain.StatusConnecting,
		LastSeenAt:  r.now(),
	}
	return true
}

func (r *PeerRegistry) SetStatus(id domain.ParticipantID, status domain.ParticipantStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return false
	}
	p.Status = status
	if status == domain.StatusConnected {
		p.LastSeenAt = r.now()
	}
	return true
}

func (r *PeerRegistry) SetRole(id domain.ParticipantID, role domain.Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return false
	}
	p.Role = role
	return true
}

func (r *PeerRegistry) UpdateCursor(id domain.ParticipantID, x, y float64, visible bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return false
	}
	p.Cursor = domain.Cursor{X: x, Y: y, Visible: visible}
	p.LastSeenAt = r.now()
	return true
}

// UpdateInfo changes the display name and color. Empty values are ignored.
func (r *PeerRegistry) UpdateInfo(id domain.ParticipantID, name, color string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return false
	}
	if name != "" {
		p.DisplayName = name
	}
	if color != "" {
		p.Color = color
	}
	return true
}

func (r *PeerRegistry) Touch(id domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.participants[id]; ok {
		p.LastSeenAt = r.now()
	}
}

// Remove deletes a remote participant. The local participant cannot be removed.
func (r *PeerRegistry) Remove(id domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == r.localID {
		return false
	}
	if _, ok := r.participants[id]; !ok {
		return false
	}
	delete(r.participants, id)
	return true
}

func (r *PeerRegistry) Get(id domain.ParticipantID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[id]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

func (r *PeerRegistry) Local() domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return *r.participants[r.localID]
}

func (r *PeerRegistry) LocalID() domain.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.localID
}

func (r *PeerRegistry) Contains(id domain.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.participants[id]
	return ok
}

// All returns every participant sorted by id.
func (r *PeerRegistry) All() []domain.Participant {
	return r.filter(func(*domain.Participant) bool { return true })
}

// Online returns the participants whose status is connected, local included.
func (r *PeerRegistry) Online() []domain.Participant {
	return r.filter(func(p *domain.Participant) bool {
		return p.Status == domain.StatusConnected
	})
}

// Stale lists remote participants not heard from within olderThan.
func (r *PeerRegistry) Stale(olderThan time.Duration) []domain.Participant {
	cutoff := r.now().Add(-olderThan)
	return r.filter(func(p *domain.Participant) bool {
		return !p.IsLocal && p.LastSeenAt.Before(cutoff)
	})
}

// Clear removes every remote participant.
func (r *PeerRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.participants {
		if id != r.localID {
			delete(r.participants, id)
		}
	}
}

func (r *PeerRegistry) filter(keep func(*domain.Participant) bool) []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		if keep(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
