// Package call holds the in-memory state of one call: who is in it and what
// has been said. Pure state, no I/O — the session actor is the only writer.
package call

import (
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// LocalID is the fixed sentinel id of the local participant.
const LocalID = "local-me"

// Participant is one member of the call.
type Participant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsLocal    bool   `json:"isLocal"`
	IsHost     bool   `json:"isHost"`
	IsMicOn    bool   `json:"isMicOn"`
	IsCameraOn bool   `json:"isCameraOn"`
}

// Seed is the identity-free template a remote participant is created from,
// by a real presence event or a simulated join.
type Seed struct {
	Name       string
	IsMicOn    bool
	IsCameraOn bool
}

// Registry is the authoritative local view of call membership.
// It never holds two local entries, and the local entry cannot be removed
// except by Reset.
type Registry struct {
	participants    []Participant
	activeSpeakerID string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// SetLocal inserts or updates the single local entry. The id is forced to
// the LocalID sentinel for the session's duration.
func (r *Registry) SetLocal(p Participant) {
	p.ID = LocalID
	p.IsLocal = true
	for i := range r.participants {
		if r.participants[i].IsLocal {
			r.participants[i] = p
			return
		}
	}
	r.participants = append([]Participant{p}, r.participants...)
}

// AddRemote allocates a fresh unique id for the seed and appends it.
func (r *Registry) AddRemote(seed Seed) Participant {
	p := Participant{
		ID:         "remote-" + uuid.NewString(),
		Name:       seed.Name,
		IsMicOn:    seed.IsMicOn,
		IsCameraOn: seed.IsCameraOn,
	}
	r.participants = append(r.participants, p)
	return p
}

// Remove deletes the participant with the given id. Refuses to remove the
// local entry. Returns true when an entry was removed.
func (r *Registry) Remove(id string) bool {
	for i, p := range r.participants {
		if p.ID == id && !p.IsLocal {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			if r.activeSpeakerID == id {
				r.activeSpeakerID = ""
			}
			return true
		}
	}
	return false
}

// RemoveLast removes the most-recently-added remote entry. The local entry
// is never touched. Returns the removed participant when one existed.
func (r *Registry) RemoveLast() (Participant, bool) {
	for i := len(r.participants) - 1; i >= 0; i-- {
		if !r.participants[i].IsLocal {
			p := r.participants[i]
			r.Remove(p.ID)
			return p, true
		}
	}
	return Participant{}, false
}

// UpdateLocalMedia mutates the mic/camera flags of the local entry only.
func (r *Registry) UpdateLocalMedia(micOn, camOn bool) {
	for i := range r.participants {
		if r.participants[i].IsLocal {
			r.participants[i].IsMicOn = micOn
			r.participants[i].IsCameraOn = camOn
			return
		}
	}
}

// SetActiveSpeaker marks a participant as the active speaker. Advisory only,
// never used for authorization. An empty id clears the marker. Returns false
// when the id is unknown.
func (r *Registry) SetActiveSpeaker(id string) bool {
	if id == "" {
		r.activeSpeakerID = ""
		return true
	}
	if !lo.ContainsBy(r.participants, func(p Participant) bool { return p.ID == id }) {
		return false
	}
	r.activeSpeakerID = id
	return true
}

// ActiveSpeakerID returns the advisory active-speaker id, or "".
func (r *Registry) ActiveSpeakerID() string {
	return r.activeSpeakerID
}

// Local returns the local entry.
func (r *Registry) Local() (Participant, bool) {
	return lo.Find(r.participants, func(p Participant) bool { return p.IsLocal })
}

// Remotes returns the remote entries in insertion order.
func (r *Registry) Remotes() []Participant {
	return lo.Filter(r.participants, func(p Participant, _ int) bool { return !p.IsLocal })
}

// Participants returns all entries in insertion order (local first).
func (r *Registry) Participants() []Participant {
	out := make([]Participant, len(r.participants))
	copy(out, r.participants)
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.participants)
}

// Reset drops every entry, including the local one. Used on call teardown.
func (r *Registry) Reset() {
	r.participants = nil
	r.activeSpeakerID = ""
}
