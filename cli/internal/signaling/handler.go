package signaling

import (
	"log/slog"
	"sync"
)

// Source is anything that yields decoded signaling messages.
type Source interface {
	Incoming() <-chan *Message
}

// Handler routes incoming signaling messages to appropriate channels.
type Handler struct {
	src    Source
	logger *slog.Logger

	// Welcome carries the participant ID assigned by the server.
	Welcome chan string
	// Signals carries peer-joined, peer-left and relayed negotiation messages
	// in arrival order.
	Signals chan *Message
	// Disconnected is closed when the source runs dry.
	Disconnected chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewHandler creates a new message handler.
func NewHandler(src Source, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		src:          src,
		logger:       logger,
		Welcome:      make(chan string, 1),
		Signals:      make(chan *Message, 64),
		Disconnected: make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start begins listening to incoming messages and routing them. It returns
// when the source closes or the handler is closed.
func (h *Handler) Start() {
	defer close(h.Disconnected)

	for msg := range h.src.Incoming() {
		switch msg.Type {
		case MessageTypeWelcome:
			h.handleWelcome(msg)

		case MessageTypePeerJoined, MessageTypePeerLeft,
			MessageTypeOffer, MessageTypeAnswer, MessageTypeICECandidate:
			select {
			case h.Signals <- msg:
			case <-h.done:
				return
			}

		default:
			h.logger.Debug("ignoring signaling message", "type", msg.Type)
		}
	}
}

func (h *Handler) handleWelcome(msg *Message) {
	if msg.Participant == "" {
		h.logger.Warn("welcome without participant id")
		return
	}
	select {
	case h.Welcome <- msg.Participant:
	default:
		h.logger.Debug("duplicate welcome ignored", "participant", msg.Participant)
	}
}

// Close stops routing. Messages still in flight are dropped.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}
