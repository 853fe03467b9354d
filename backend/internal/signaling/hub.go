package signaling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Drop reasons recorded when the hub discards a message.
const (
	DropReasonMalformed          = "malformed"
	DropReasonEmptyRoom          = "empty_room"
	DropReasonUnroutableTarget   = "unroutable_target"
	DropReasonBufferFull         = "buffer_full"
	DropReasonUnknownType        = "unknown_type"
	DropReasonUnregisteredSender = "unregistered_sender"
)

// ErrHubStopped is returned by calls made after the hub's loop has exited.
var ErrHubStopped = errors.New("hub stopped")

// HubConfig tunes relay behavior.
type HubConfig struct {
	// PeerLeft makes the hub tell the remaining occupants when someone
	// leaves or disconnects. Disabling it reproduces the legacy relay, where
	// the other side only notices through its own transport timeouts.
	PeerLeft bool
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Rooms        int               `json:"rooms"`
	Participants int               `json:"participants"`
	Relayed      uint64            `json:"relayed"`
	Dropped      map[string]uint64 `json:"dropped"`
}

type dropCounters struct {
	malformed    atomic.Uint64
	emptyRoom    atomic.Uint64
	unroutable   atomic.Uint64
	bufferFull   atomic.Uint64
	unknownType  atomic.Uint64
	unregistered atomic.Uint64
}

func (d *dropCounters) inc(reason string) {
	switch reason {
	case DropReasonMalformed:
		d.malformed.Add(1)
	case DropReasonEmptyRoom:
		d.emptyRoom.Add(1)
	case DropReasonUnroutableTarget:
		d.unroutable.Add(1)
	case DropReasonBufferFull:
		d.bufferFull.Add(1)
	case DropReasonUnknownType:
		d.unknownType.Add(1)
	case DropReasonUnregisteredSender:
		d.unregistered.Add(1)
	}
}

func (d *dropCounters) snapshot() map[string]uint64 {
	return map[string]uint64{
		DropReasonMalformed:          d.malformed.Load(),
		DropReasonEmptyRoom:          d.emptyRoom.Load(),
		DropReasonUnroutableTarget:   d.unroutable.Load(),
		DropReasonBufferFull:         d.bufferFull.Load(),
		DropReasonUnknownType:        d.unknownType.Load(),
		DropReasonUnregisteredSender: d.unregistered.Load(),
	}
}

// Hub is the central brain of the signaling server.
// It owns the room registry and every connected client. All of that state is
// touched only from Run, so routing for every room is serialized.
type Hub struct {
	config   HubConfig
	registry *RoomRegistry
	clients  map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	stats      chan chan Stats
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
	running    atomic.Bool

	relayed atomic.Uint64
	dropped dropCounters
}

// NewHub creates a new Hub instance.
func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		config:     cfg,
		registry:   NewRoomRegistry(),
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message),
		stats:      make(chan chan Stats),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Register hands a freshly connected client to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister tells the hub a client's connection is gone.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Dispatch queues an inbound message for routing.
func (h *Hub) Dispatch(msg *Message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// Stats asks the loop for a snapshot of the hub.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case h.stats <- reply:
	case <-h.done:
		return Stats{}, ErrHubStopped
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}

	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Stop ends the loop and closes every client's send channel. It is safe to
// call more than once, and before Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	if h.running.Load() {
		<-h.done
	}
}

// Run starts the hub's main processing loop.
// This is the single goroutine that safely manages all state (rooms, clients).
func (h *Hub) Run() {
	h.running.Store(true)
	defer close(h.done)

	for {
		select {
		case <-h.quit:
			for id, client := range h.clients {
				close(client.Send)
				delete(h.clients, id)
			}
			log.Info().Msg("Hub stopped")
			return

		case client := <-h.register:
			h.clients[client.ID] = client
			log.Info().Str("participant", client.ID).Msg("Client registered")
			h.deliver(client, &Message{Type: MessageTypeWelcome, Participant: client.ID})

		case client := <-h.unregister:
			if current, ok := h.clients[client.ID]; !ok || current != client {
				continue
			}
			h.leaveRoom(client.ID, "disconnect")
			delete(h.clients, client.ID)
			close(client.Send)
			log.Info().Str("participant", client.ID).Msg("Client unregistered")

		case message := <-h.broadcast:
			h.route(message)

		case reply := <-h.stats:
			reply <- h.snapshot()
		}
	}
}

// route is the core signaling logic for one inbound message.
func (h *Hub) route(msg *Message) {
	sender := msg.client
	if sender == nil {
		h.drop(DropReasonUnregisteredSender)
		return
	}
	if current, ok := h.clients[sender.ID]; !ok || current != sender {
		log.Debug().Str("participant", sender.ID).Str("type", msg.Type).Msg("Message from unregistered client dropped")
		h.drop(DropReasonUnregisteredSender)
		return
	}

	switch {
	case msg.Type == MessageTypeJoin:
		h.join(sender, msg.Room)

	case msg.Type == MessageTypeLeave:
		h.leaveRoom(sender.ID, "leave")

	case msg.isRelayed():
		h.relay(sender, msg)

	default:
		log.Warn().Str("participant", sender.ID).Str("type", msg.Type).Msg("Unknown message type")
		h.drop(DropReasonUnknownType)
	}
}

func (h *Hub) join(sender *Client, room string) {
	if room == "" {
		log.Warn().Str("participant", sender.ID).Msg("Join without room dropped")
		h.drop(DropReasonEmptyRoom)
		return
	}

	if current, ok := h.registry.RoomOf(sender.ID); ok {
		if current == room {
			log.Debug().Str("participant", sender.ID).Str("room", room).Msg("Duplicate join ignored")
			return
		}
		h.leaveRoom(sender.ID, "switch room")
	}

	h.registry.Join(room, sender.ID)
	others := h.registry.OccupantsExcluding(room, sender.ID)
	log.Info().Str("participant", sender.ID).Str("room", room).Int("others", len(others)).Msg("Participant joined room")

	if len(others) > 1 {
		// Rooms are meant for two, but everyone is still notified.
		log.Warn().Str("room", room).Int("occupants", len(others)+1).Msg("Room has more than two occupants")
	}

	for _, id := range others {
		if client, ok := h.clients[id]; ok {
			h.deliver(client, &Message{Type: MessageTypePeerJoined, Participant: sender.ID})
		}
	}
}

// leaveRoom removes participant from its room and, when enabled, tells
// whoever is left behind.
func (h *Hub) leaveRoom(participant, reason string) {
	room, ok := h.registry.Leave(participant)
	if !ok {
		return
	}
	log.Info().Str("participant", participant).Str("room", room).Str("reason", reason).Msg("Participant left room")

	if !h.config.PeerLeft {
		return
	}
	for _, id := range h.registry.Occupants(room) {
		if client, ok := h.clients[id]; ok {
			h.deliver(client, &Message{Type: MessageTypePeerLeft, Participant: participant})
		}
	}
}

// relay forwards an offer, answer or candidate. A target naming a connected
// participant is delivered to that participant only; anything else is taken
// as a room and fanned out to everyone in it except the sender. Membership of
// sender and target is not checked.
func (h *Hub) relay(sender *Client, msg *Message) {
	out := msg.forwardFrom(sender.ID)
	target := msg.Target

	if target == "" || target == sender.ID {
		log.Debug().Str("participant", sender.ID).Str("type", msg.Type).Msg("Message without usable target dropped")
		h.drop(DropReasonUnroutableTarget)
		return
	}

	if client, ok := h.clients[target]; ok {
		log.Debug().Str("participant", sender.ID).Str("target", target).Str("type", msg.Type).Msg("Relaying to participant")
		h.deliver(client, out)
		return
	}

	if !h.registry.HasRoom(target) {
		log.Debug().Str("participant", sender.ID).Str("target", target).Str("type", msg.Type).Msg("Unknown target dropped")
		h.drop(DropReasonUnroutableTarget)
		return
	}

	recipients := h.registry.OccupantsExcluding(target, sender.ID)
	if len(recipients) == 0 {
		log.Debug().Str("participant", sender.ID).Str("target", target).Str("type", msg.Type).Msg("No one to relay to")
		h.drop(DropReasonUnroutableTarget)
		return
	}

	log.Debug().Str("participant", sender.ID).Str("room", target).Str("type", msg.Type).Int("recipients", len(recipients)).Msg("Relaying to room")
	for _, id := range recipients {
		if client, ok := h.clients[id]; ok {
			h.deliver(client, out)
		}
	}
}

// deliver never blocks the loop. A full send buffer drops msg.
func (h *Hub) deliver(c *Client, msg *Message) {
	select {
	case c.Send <- msg:
		if msg.Sender != "" {
			h.relayed.Add(1)
		}
	default:
		log.Warn().Str("participant", c.ID).Str("type", msg.Type).Msg("Send buffer full, dropping message")
		h.drop(DropReasonBufferFull)
	}
}

func (h *Hub) drop(reason string) {
	h.dropped.inc(reason)
}

func (h *Hub) snapshot() Stats {
	return Stats{
		Rooms:        h.registry.Len(),
		Participants: len(h.clients),
		Relayed:      h.relayed.Load(),
		Dropped:      h.dropped.snapshot(),
	}
}
