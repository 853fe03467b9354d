package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BioHazard786/Warpcall/cli/internal/negotiation"
	"github.com/BioHazard786/Warpcall/cli/internal/rtc"
	"github.com/BioHazard786/Warpcall/cli/internal/signaling"
)

// Transport is the signaling connection. *signaling.Client satisfies it.
type Transport interface {
	Connect(ctx context.Context) error
	SendMessage(msg *signaling.Message) error
	Incoming() <-chan *signaling.Message
	Close()
}

// Config wires a Lifecycle to its collaborators.
type Config struct {
	Transport Transport
	Media     rtc.Source
	Factory   negotiation.Factory
	Logger    *slog.Logger
}

// Lifecycle owns one participant's call: signaling session, local media,
// room membership and the negotiation machine.
type Lifecycle struct {
	transport Transport
	source    rtc.Source
	factory   negotiation.Factory
	logger    *slog.Logger

	handler *signaling.Handler
	updates chan Update
	ctx     context.Context
	cancel  context.CancelFunc

	// active is the generation of the machine whose transitions count.
	active atomic.Uint64

	mu        sync.Mutex
	self      string
	room      string
	lastRoom  string
	gen       uint64
	media     *rtc.LocalMedia
	machine   *negotiation.Machine
	// callCtx bounds the current room's negotiations; Leave cancels it.
	callCtx    context.Context
	callCancel context.CancelFunc
	last      negotiation.Stats
	joinedAt  time.Time
	leftAt    time.Time
	closing   bool
	closeOnce sync.Once

	statusMu sync.Mutex
	status   Status
	peer     string
}

// New returns a disconnected lifecycle.
func New(cfg Config) *Lifecycle {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Lifecycle{
		transport: cfg.Transport,
		source:    cfg.Media,
		factory:   cfg.Factory,
		logger:    logger,
		updates:   make(chan Update, 1),
		ctx:       ctx,
		cancel:    cancel,
		status:    StatusDisconnected,
	}
}

// Start connects to the relay and waits for the participant id.
func (l *Lifecycle) Start(ctx context.Context) error {
	if err := l.transport.Connect(ctx); err != nil {
		return NewError("connect", err)
	}

	l.handler = signaling.NewHandler(l.transport, l.logger)
	go l.handler.Start()

	select {
	case self := <-l.handler.Welcome:
		l.mu.Lock()
		l.self = self
		l.mu.Unlock()
	case <-l.handler.Disconnected:
		l.transport.Close()
		return NewError("connect", ErrNoWelcome)
	case <-ctx.Done():
		l.transport.Close()
		l.handler.Close()
		return NewError("connect", ctx.Err())
	}

	l.logger.Info("connected to signaling server", "participant", l.Self())
	l.setStatus(StatusConnectedToSignaling, "", nil)

	go l.route()
	return nil
}

// Join acquires local media, arms a new negotiation machine and enters room.
// Media failures are reported, never retried.
func (l *Lifecycle) Join(ctx context.Context, room string) error {
	if room == "" {
		return NewError("join", ErrEmptyRoom)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.self == "" || l.closing {
		return NewError("join", ErrNotConnected)
	}
	if l.room != "" {
		return WrapError("join", ErrAlreadyJoined, l.room)
	}

	media, err := l.source.Acquire(ctx)
	if err != nil {
		l.logger.Error("local media unavailable", "error", err)
		return NewError("acquire media", err)
	}

	l.gen++
	gen := l.gen
	machine := negotiation.New(negotiation.Config{
		Self:     l.self,
		Factory:  l.factory,
		Signaler: l.transport,
		Logger:   l.logger.With("room", room),
		Notify: func(tr negotiation.Transition) {
			l.onTransition(gen, tr)
		},
	})
	if err := machine.SetLocalMedia(media.Tracks()); err != nil {
		media.Stop()
		return NewError("join", err)
	}
	l.active.Store(gen)

	if err := l.transport.SendMessage(signaling.NewJoin(room)); err != nil {
		l.active.Store(0)
		machine.Close()
		media.Stop()
		return NewError("join", err)
	}

	l.callCtx, l.callCancel = context.WithCancel(l.ctx)
	media.Start(l.callCtx)
	l.media = media
	l.machine = machine
	l.room = room
	l.lastRoom = room
	l.joinedAt = time.Now()
	l.leftAt = time.Time{}

	l.logger.Info("joined room", "room", room, "media", media.Kinds())
	l.setStatus(StatusJoined, "", nil)
	return nil
}

// Leave closes the machine, stops local media and leaves the room. An
// in-flight negotiation is abandoned at its next step and sends nothing more.
func (l *Lifecycle) Leave() error {
	l.mu.Lock()
	machine, media, room := l.machine, l.media, l.room
	if room == "" {
		l.mu.Unlock()
		return NewError("leave", ErrNotJoined)
	}
	l.endCall()
	l.leftAt = time.Now()
	l.mu.Unlock()

	l.retire(machine, media)

	if err := l.transport.SendMessage(signaling.NewLeave()); err != nil && !errors.Is(err, signaling.ErrClosed) {
		l.logger.Warn("failed to send leave", "error", err)
	}

	l.logger.Info("left room", "room", room)
	l.setStatus(StatusConnectedToSignaling, "", nil)
	return nil
}

// Close leaves any room and drops the signaling connection.
func (l *Lifecycle) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closing = true
		joined := l.room != ""
		l.mu.Unlock()

		if joined {
			l.Leave()
		}

		l.cancel()
		if l.handler != nil {
			l.handler.Close()
		}
		l.transport.Close()
		l.setStatus(StatusDisconnected, "", nil)
	})
}

// Self is the participant id assigned by the relay.
func (l *Lifecycle) Self() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.self
}

// Room is the room currently joined, if any.
func (l *Lifecycle) Room() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.room
}

// Status returns the current status.
func (l *Lifecycle) Status() Status {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	return l.status
}

// Updates delivers status changes. Only the latest is kept for slow readers.
func (l *Lifecycle) Updates() <-chan Update {
	return l.updates
}

// Summary reports on the current or most recent call.
func (l *Lifecycle) Summary() Summary {
	l.mu.Lock()
	stats := l.last
	if l.machine != nil {
		stats = l.machine.Stats()
	}
	s := Summary{
		Room:               l.lastRoom,
		Self:               l.self,
		Peer:               stats.LastPeer,
		Role:               stats.LastRole.String(),
		CandidatesSent:     stats.CandidatesSent,
		CandidatesReceived: stats.CandidatesReceived,
		Handles:            stats.Handles,
	}
	if !l.joinedAt.IsZero() {
		end := l.leftAt
		if end.IsZero() {
			end = time.Now()
		}
		s.Duration = end.Sub(l.joinedAt)
	}
	l.mu.Unlock()

	s.Status = l.Status()
	l.statusMu.Lock()
	if s.Peer == "" {
		s.Peer = l.peer
	}
	l.statusMu.Unlock()
	return s
}

// route feeds relay messages to the current machine in arrival order.
func (l *Lifecycle) route() {
	for {
		select {
		case <-l.ctx.Done():
			return

		case <-l.handler.Disconnected:
			l.lost()
			return

		case msg := <-l.handler.Signals:
			l.mu.Lock()
			machine, ctx := l.machine, l.callCtx
			l.mu.Unlock()

			if machine == nil {
				l.logger.Debug("no active call, dropping message", "type", msg.Type)
				continue
			}

			err := machine.Handle(ctx, msg)
			switch {
			case err == nil:
			case negotiation.IsDiscard(err):
				l.logger.Debug("discarded signaling message", "type", msg.Type, "error", err)
			default:
				l.logger.Warn("negotiation error", "type", msg.Type, "error", err)
			}
		}
	}
}

// lost handles the relay going away underneath us.
func (l *Lifecycle) lost() {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return
	}
	machine, media := l.machine, l.media
	l.endCall()
	if !l.joinedAt.IsZero() && l.leftAt.IsZero() {
		l.leftAt = time.Now()
	}
	l.self = ""
	l.mu.Unlock()

	l.retire(machine, media)
	l.logger.Error("signaling connection lost")
	l.setStatus(StatusDisconnected, "", ErrSignalingLost)
}

// endCall detaches the current call and stops its negotiations. Callers
// hold l.mu.
func (l *Lifecycle) endCall() {
	if l.callCancel != nil {
		l.callCancel()
	}
	l.active.Store(0)
	l.machine, l.media, l.room = nil, nil, ""
	l.callCtx, l.callCancel = nil, nil
}

// retire closes machine first; Stats waits for any engine step in flight.
func (l *Lifecycle) retire(machine *negotiation.Machine, media *rtc.LocalMedia) {
	if machine != nil {
		machine.Close()
		stats := machine.Stats()
		l.mu.Lock()
		l.last = stats
		l.mu.Unlock()
	}
	if media != nil {
		media.Stop()
	}
}

// onTransition runs under the machine's lock, so it only touches status.
func (l *Lifecycle) onTransition(gen uint64, tr negotiation.Transition) {
	if l.active.Load() != gen {
		return
	}
	switch tr.State {
	case negotiation.StateConnected:
		l.setStatus(StatusPeerConnected, tr.Peer, nil)
	case negotiation.StateNegotiating:
		l.setStatus(StatusJoined, tr.Peer, nil)
	case negotiation.StateLocalStreamReady:
		if tr.Err != nil {
			l.setStatus(StatusFailed, "", tr.Err)
			return
		}
		l.setStatus(StatusJoined, "", nil)
	}
}

func (l *Lifecycle) setStatus(s Status, peer string, err error) {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()

	l.status = s
	l.peer = peer
	u := Update{Status: s, Peer: peer, Err: err}

	// Latest wins.
	select {
	case <-l.updates:
	default:
	}
	select {
	case l.updates <- u:
	default:
	}
}
