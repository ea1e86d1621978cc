// Package room is the server-authoritative room and membership store.
//
// A Room owns the ordered list of its member identifiers; peers hold only
// the room name as a back-reference. All traversal goes through the
// Registry, so no peer/room ownership cycle can form. Mutations are
// serialized by one lock and applied only after validation, so no failure
// leaves a room half-mutated.
package room

import (
	"sort"
	"sync"
	"time"

	"gridnet/internal/pkg/wire"

	"github.com/google/uuid"
)

// Member is one occupant of a room.
type Member struct {
	UUID uuid.UUID
	Name string
}

// Room is a named group of peers sharing chat/broadcast scope.
type Room struct {
	Name      string
	Members   []Member // join order
	CreatedAt time.Time
}

// roster returns the member display names in join order.
func (r *Room) roster() []string {
	names := make([]string, len(r.Members))
	for i, m := range r.Members {
		names[i] = m.Name
	}
	return names
}

// Registry is the authoritative room store. Room names are unique and
// case-sensitive; a room disappears when its last member leaves.
type Registry struct {
	capacity int
	rooms    map[string]*Room
	mu       sync.Mutex
	now      func() time.Time
}

// NewRegistry creates a Registry. capacity bounds occupants per room;
// capacity <= 0 means unbounded.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		capacity: capacity,
		rooms:    make(map[string]*Room),
		now:      time.Now,
	}
}

// Create makes a new empty room and joins the creator to it.
func (g *Registry) Create(name string, creator Member) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.rooms[name]; ok {
		return nil, ErrRoomExists
	}
	r := &Room{
		Name:      name,
		Members:   []Member{creator},
		CreatedAt: g.now(),
	}
	g.rooms[name] = r
	return r.roster(), nil
}

// Join adds m to the named room and returns the updated roster.
func (g *Registry) Join(name string, m Member) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[name]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if g.capacity > 0 && len(r.Members) >= g.capacity {
		return nil, ErrRoomFull
	}
	r.Members = append(r.Members, m)
	return r.roster(), nil
}

// Leave removes the peer from the named room. The room is destroyed when
// its last member leaves; the returned roster describes what remains.
func (g *Registry) Leave(name string, id uuid.UUID) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.leaveLocked(name, id)
}

func (g *Registry) leaveLocked(name string, id uuid.UUID) ([]string, error) {
	r, ok := g.rooms[name]
	if !ok {
		return nil, ErrRoomNotFound
	}
	for i, m := range r.Members {
		if m.UUID == id {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			if len(r.Members) == 0 {
				delete(g.rooms, name)
			}
			return r.roster(), nil
		}
	}
	return nil, ErrNotInRoom
}

// Members returns the member identifiers of the named room.
func (g *Registry) Members(name string) []Member {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[name]
	if !ok {
		return nil
	}
	out := make([]Member, len(r.Members))
	copy(out, r.Members)
	return out
}

// List returns a point-in-time snapshot of room names and occupant counts,
// sorted by name for stable output.
func (g *Registry) List() []wire.RoomInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]wire.RoomInfo, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, wire.RoomInfo{Name: r.Name, Occupants: uint16(len(r.Members))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len reports the number of rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}
