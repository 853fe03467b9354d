package signaling

// RoomRegistry maps room IDs to the participants currently inside them.
//
// It does no locking of its own. The Hub's Run loop is its only owner.
type RoomRegistry struct {
	rooms  map[string]map[string]struct{}
	member map[string]string
}

// NewRoomRegistry creates an empty registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms:  make(map[string]map[string]struct{}),
		member: make(map[string]string),
	}
}

// Join adds participant to room, creating the room on first use.
// A participant lives in one room at a time, so joining a different room
// moves it out of the old one.
func (r *RoomRegistry) Join(room, participant string) {
	if current, ok := r.member[participant]; ok {
		if current == room {
			return
		}
		r.Leave(participant)
	}

	occupants, ok := r.rooms[room]
	if !ok {
		occupants = make(map[string]struct{})
		r.rooms[room] = occupants
	}
	occupants[participant] = struct{}{}
	r.member[participant] = room
}

// Leave removes participant from its room and forgets the room once it is
// empty. It returns the room that was left, if any.
func (r *RoomRegistry) Leave(participant string) (string, bool) {
	room, ok := r.member[participant]
	if !ok {
		return "", false
	}
	delete(r.member, participant)

	if occupants, ok := r.rooms[room]; ok {
		delete(occupants, participant)
		if len(occupants) == 0 {
			delete(r.rooms, room)
		}
	}
	return room, true
}

// OccupantsExcluding returns every current occupant of room except participant.
func (r *RoomRegistry) OccupantsExcluding(room, participant string) []string {
	occupants := r.rooms[room]
	out := make([]string, 0, len(occupants))
	for id := range occupants {
		if id != participant {
			out = append(out, id)
		}
	}
	return out
}

// Occupants returns every current occupant of room.
func (r *RoomRegistry) Occupants(room string) []string {
	return r.OccupantsExcluding(room, "")
}

// RoomOf returns the room participant is in.
func (r *RoomRegistry) RoomOf(participant string) (string, bool) {
	room, ok := r.member[participant]
	return room, ok
}

// HasRoom reports whether room currently has at least one occupant.
func (r *RoomRegistry) HasRoom(room string) bool {
	_, ok := r.rooms[room]
	return ok
}

// Len returns the number of live rooms.
func (r *RoomRegistry) Len() int {
	return len(r.rooms)
}
