package negotiation

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/BioHazard786/Warpcall/cli/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the slice of the WebRTC engine the machine drives.
// *webrtc.PeerConnection satisfies it.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

// Observer receives engine events for one handle. Callbacks may run on
// engine goroutines and must not block.
type Observer struct {
	OnCandidate       func(webrtc.ICECandidateInit)
	OnConnectionState func(webrtc.PeerConnectionState)
}

// Factory creates a fresh engine handle wired to obs.
type Factory interface {
	NewPeerConnection(obs Observer) (PeerConnection, error)
}

// Signaler sends messages to the relay.
type Signaler interface {
	SendMessage(msg *signaling.Message) error
}

// Config configures a Machine.
type Config struct {
	// Self is the participant id assigned by the relay.
	Self     string
	Factory  Factory
	Signaler Signaler
	Logger   *slog.Logger
	// Notify is called with the machine's lock held and must not call back
	// into the machine.
	Notify              func(Transition)
	MaxQueuedCandidates int
}

// Stats is a snapshot of the machine for presentation.
type Stats struct {
	State              State
	Role               Role
	Peer               string
	Handles            int
	CandidatesSent     int64
	CandidatesReceived int64
	CandidatesQueued   int
	// LastPeer and LastRole describe the most recent handle, live or not.
	LastPeer string
	LastRole Role
}

// handle is the single live engine connection and what it is negotiating.
type handle struct {
	gen       uint64
	pc        PeerConnection
	peer      string
	role      Role
	remoteSet bool
	applied   map[string]struct{}
	// done stops the handle's state worker.
	done chan struct{}
}

// liveRef is what engine callbacks need without taking the lock.
type liveRef struct {
	gen  uint64
	peer string
}

// stateBacklog bounds the engine reports waiting for the machine's lock.
const stateBacklog = 16

// Machine drives the offer/answer/candidate exchange with one remote peer.
// Inbound messages must be delivered by a single goroutine in arrival order.
type Machine struct {
	self     string
	factory  Factory
	signaler Signaler
	logger   *slog.Logger
	notify   func(Transition)

	closed atomic.Bool
	live   atomic.Pointer[liveRef]

	candidatesSent     atomic.Int64
	candidatesReceived atomic.Int64

	mu         sync.Mutex
	state      State
	tracks     []webrtc.TrackLocal
	cur        *handle
	gen        uint64
	handles    int
	queue      *candidateQueue
	lastOffer  string
	lastAnswer string
	lastPeer   string
	lastRole   Role
}

// New returns an idle machine.
func New(cfg Config) *Machine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		self:     cfg.Self,
		factory:  cfg.Factory,
		signaler: cfg.Signaler,
		logger:   logger.With("self", cfg.Self),
		notify:   cfg.Notify,
		state:    StateIdle,
		queue:    newCandidateQueue(cfg.MaxQueuedCandidates),
	}
}

// State returns the current phase.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns a snapshot of the machine.
func (m *Machine) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		State:              m.state,
		Handles:            m.handles,
		CandidatesSent:     m.candidatesSent.Load(),
		CandidatesReceived: m.candidatesReceived.Load(),
		CandidatesQueued:   m.queue.len(),
		LastPeer:           m.lastPeer,
		LastRole:           m.lastRole,
	}
	if m.cur != nil {
		s.Role = m.cur.role
		s.Peer = m.cur.peer
	}
	return s
}

// SetLocalMedia arms the machine with the tracks every handle will carry.
// It moves Idle to LocalStreamReady.
func (m *Machine) SetLocalMedia(tracks []webrtc.TrackLocal) error {
	if m.closed.Load() {
		return newError("set local media", "", ErrClosed)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return newError("set local media", "", ErrAlreadyArmed)
	}
	m.tracks = tracks
	m.setState(StateLocalStreamReady, nil)
	return nil
}

// Handle applies one inbound signaling message. A non-nil error for which
// IsDiscard is true means the message was ignored and nothing changed.
func (m *Machine) Handle(ctx context.Context, msg *signaling.Message) error {
	if m.closed.Load() {
		return newError("handle "+msg.Type, "", ErrClosed)
	}

	from := msg.Sender
	if from == "" {
		from = msg.Participant
	}
	if from == "" {
		return newError("handle "+msg.Type, "", ErrMissingSender)
	}
	if from == m.self {
		return newError("handle "+msg.Type, from, ErrSelfMessage)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return newError("handle "+msg.Type, from, ErrClosed)
	}

	switch msg.Type {
	case signaling.MessageTypePeerJoined:
		return m.peerJoined(ctx, from)
	case signaling.MessageTypePeerLeft:
		return m.peerLeft(from)
	case signaling.MessageTypeOffer:
		return m.offer(ctx, from, msg.SDP)
	case signaling.MessageTypeAnswer:
		return m.answer(from, msg.SDP)
	case signaling.MessageTypeICECandidate:
		return m.candidate(from, msg.Candidate)
	default:
		m.logger.Debug("ignoring message", "type", msg.Type, "sender", from)
		return nil
	}
}

// Close retires the live handle and drops queued candidates. It does not
// wait for a remote reply; an engine step already running finishes first.
func (m *Machine) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.retire()
	m.queue.reset()
	m.tracks = nil
	m.lastOffer, m.lastAnswer = "", ""
	m.setState(StateClosed, nil)
	return nil
}

func (m *Machine) peerJoined(ctx context.Context, peer string) error {
	switch m.state {
	case StateIdle:
		return newError("peer joined", peer, ErrMediaNotReady)

	case StateNegotiating, StateConnected:
		if m.cur != nil && m.cur.peer == peer {
			m.logger.Debug("duplicate peer-joined ignored", "peer", peer)
			return nil
		}
		m.logger.Warn("restarting negotiation for new peer",
			"error", ErrDuplicateNegotiation, "previous", m.peer(), "peer", peer)
	}

	return m.startOffer(ctx, peer)
}

func (m *Machine) peerLeft(peer string) error {
	m.queue.dropFrom(peer)

	if m.cur == nil || m.cur.peer != peer {
		return nil
	}
	m.logger.Info("peer left", "peer", peer)
	m.retire()
	m.lastOffer, m.lastAnswer = "", ""
	m.setState(StateLocalStreamReady, nil)
	return nil
}

func (m *Machine) startOffer(ctx context.Context, peer string) error {
	const op = "create offer"

	if err := m.open(peer, RoleOfferer); err != nil {
		return m.fail(op, peer, err)
	}
	if err := m.attachTracks(ctx); err != nil {
		return m.fail(op, peer, err)
	}

	offer, err := m.cur.pc.CreateOffer(nil)
	if err != nil {
		return m.fail(op, peer, err)
	}
	if err := m.checkpoint(ctx); err != nil {
		return m.fail(op, peer, err)
	}
	if err := m.cur.pc.SetLocalDescription(offer); err != nil {
		return m.fail(op, peer, err)
	}
	if err := m.checkpoint(ctx); err != nil {
		return m.fail(op, peer, err)
	}
	if err := m.signaler.SendMessage(signaling.NewDescription(peer, offer)); err != nil {
		return m.fail(op, peer, err)
	}

	m.logger.Info("sent offer", "peer", peer)
	return nil
}

func (m *Machine) offer(ctx context.Context, from string, sdp *webrtc.SessionDescription) error {
	const op = "answer offer"

	if sdp == nil || sdp.Type != webrtc.SDPTypeOffer {
		return newError(op, from, ErrInvalidMessage)
	}

	key := descriptionKey(from, *sdp)
	switch m.state {
	case StateIdle:
		return newError(op, from, ErrMediaNotReady)

	case StateNegotiating, StateConnected:
		if key == m.lastOffer {
			m.logger.Debug("duplicate offer ignored", "peer", from)
			return nil
		}
		m.logger.Warn("restarting negotiation for new offer",
			"error", ErrDuplicateNegotiation, "previous", m.peer(), "peer", from)
	}

	if err := m.open(from, RoleAnswerer); err != nil {
		return m.fail(op, from, err)
	}
	if err := m.attachTracks(ctx); err != nil {
		return m.fail(op, from, err)
	}
	if err := m.applyRemote(*sdp); err != nil {
		return m.fail(op, from, err)
	}
	if err := m.checkpoint(ctx); err != nil {
		return m.fail(op, from, err)
	}

	answer, err := m.cur.pc.CreateAnswer(nil)
	if err != nil {
		return m.fail(op, from, err)
	}
	if err := m.checkpoint(ctx); err != nil {
		return m.fail(op, from, err)
	}
	if err := m.cur.pc.SetLocalDescription(answer); err != nil {
		return m.fail(op, from, err)
	}
	if err := m.checkpoint(ctx); err != nil {
		return m.fail(op, from, err)
	}
	if err := m.signaler.SendMessage(signaling.NewDescription(from, answer)); err != nil {
		return m.fail(op, from, err)
	}

	m.lastOffer = key
	m.logger.Info("sent answer", "peer", from)
	return nil
}

func (m *Machine) answer(from string, sdp *webrtc.SessionDescription) error {
	const op = "apply answer"

	if sdp == nil || sdp.Type != webrtc.SDPTypeAnswer {
		return newError(op, from, ErrInvalidMessage)
	}

	key := descriptionKey(from, *sdp)
	if key == m.lastAnswer {
		m.logger.Debug("duplicate answer ignored", "peer", from)
		return nil
	}

	if m.state != StateNegotiating || m.cur == nil || m.cur.role != RoleOfferer ||
		m.cur.peer != from || m.cur.remoteSet {
		m.logger.Warn("discarding out of order answer",
			"peer", from, "state", m.state.String(), "role", m.role().String())
		return newError(op, from, ErrStaleSessionDescription)
	}

	if err := m.applyRemote(*sdp); err != nil {
		return m.fail(op, from, err)
	}

	m.lastAnswer = key
	m.setState(StateConnected, nil)
	return nil
}

func (m *Machine) candidate(from string, c *webrtc.ICECandidateInit) error {
	const op = "add candidate"

	if c == nil || c.Candidate == "" {
		return newError(op, from, ErrInvalidMessage)
	}
	if m.state == StateIdle {
		return newError(op, from, ErrMediaNotReady)
	}
	if m.cur != nil && m.cur.peer != from {
		return newError(op, from, ErrForeignPeer)
	}

	key := candidateKey(from, *c)
	if m.queue.has(key) {
		return nil
	}

	if m.cur == nil || !m.cur.remoteSet {
		if !m.queue.push(from, key, *c) {
			m.logger.Warn("candidate queue full, dropping candidate", "peer", from)
			return newError(op, from, ErrCandidateQueueFull)
		}
		m.logger.Debug("queued remote candidate", "peer", from, "queued", m.queue.len())
		return nil
	}

	if _, ok := m.cur.applied[key]; ok {
		return nil
	}
	if err := m.cur.pc.AddICECandidate(*c); err != nil {
		m.logger.Warn("failed to add remote candidate", "peer", from, "error", err)
		return newError(op, from, err)
	}
	m.cur.applied[key] = struct{}{}
	m.candidatesReceived.Add(1)
	return nil
}

// open retires any live handle, then creates the next one for peer.
func (m *Machine) open(peer string, role Role) error {
	m.retire()
	m.queue.retain(peer)
	m.lastOffer, m.lastAnswer = "", ""

	m.gen++
	gen := m.gen
	states := make(chan webrtc.PeerConnectionState, stateBacklog)
	done := make(chan struct{})
	pc, err := m.factory.NewPeerConnection(Observer{
		OnCandidate: func(c webrtc.ICECandidateInit) {
			m.localCandidate(gen, c)
		},
		OnConnectionState: func(s webrtc.PeerConnectionState) {
			select {
			case <-done:
				return
			default:
			}
			select {
			case states <- s:
			case <-done:
			default:
				m.logger.Warn("connection state backlog full, dropping report", "state", s.String())
			}
		},
	})
	if err != nil {
		close(done)
		return err
	}
	go m.watchStates(gen, states, done)

	m.handles++
	m.lastPeer, m.lastRole = peer, role
	m.cur = &handle{
		gen:     gen,
		pc:      pc,
		peer:    peer,
		role:    role,
		applied: make(map[string]struct{}),
		done:    done,
	}
	m.live.Store(&liveRef{gen: gen, peer: peer})
	m.setState(StateNegotiating, nil)
	return nil
}

func (m *Machine) attachTracks(ctx context.Context) error {
	for _, track := range m.tracks {
		if err := m.checkpoint(ctx); err != nil {
			return err
		}
		if _, err := m.cur.pc.AddTrack(track); err != nil {
			return err
		}
	}
	return m.checkpoint(ctx)
}

// applyRemote sets the remote description and flushes queued candidates
// from the current peer exactly once.
func (m *Machine) applyRemote(desc webrtc.SessionDescription) error {
	if err := m.cur.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	m.cur.remoteSet = true

	for _, q := range m.queue.drain(m.cur.peer) {
		if _, ok := m.cur.applied[q.key]; ok {
			continue
		}
		if err := m.cur.pc.AddICECandidate(q.candidate); err != nil {
			m.logger.Warn("failed to add queued candidate", "peer", m.cur.peer, "error", err)
			continue
		}
		m.cur.applied[q.key] = struct{}{}
		m.candidatesReceived.Add(1)
	}
	return nil
}

// retire closes the live handle. Callbacks bound to it are ignored from here on.
func (m *Machine) retire() {
	if m.cur == nil {
		return
	}
	m.live.Store(nil)
	close(m.cur.done)
	if err := m.cur.pc.Close(); err != nil {
		m.logger.Debug("closing peer connection", "error", err)
	}
	m.cur = nil
}

// checkpoint stops a negotiation between engine steps once the machine is
// closed or the caller gave up.
func (m *Machine) checkpoint(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// fail retires the handle of an aborted attempt and returns to waiting for a
// peer.
func (m *Machine) fail(op, peer string, err error) error {
	e := newError(op, peer, err)
	m.retire()
	m.lastOffer, m.lastAnswer = "", ""
	if m.closed.Load() {
		return e
	}
	m.logger.Error("negotiation failed", "op", op, "peer", peer, "error", err)
	m.setState(StateLocalStreamReady, e)
	return e
}

func (m *Machine) localCandidate(gen uint64, c webrtc.ICECandidateInit) {
	live := m.live.Load()
	if live == nil || live.gen != gen || m.closed.Load() {
		return
	}
	if err := m.signaler.SendMessage(signaling.NewCandidate(live.peer, c)); err != nil {
		m.logger.Debug("dropping local candidate", "error", err)
		return
	}
	m.candidatesSent.Add(1)
}

// watchStates applies one handle's engine reports in the order they were made.
func (m *Machine) watchStates(gen uint64, states <-chan webrtc.PeerConnectionState, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case s := <-states:
			m.connectionState(gen, s)
		}
	}
}

func (m *Machine) connectionState(gen uint64, s webrtc.PeerConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur == nil || m.cur.gen != gen || m.state == StateClosed {
		return
	}
	m.logger.Debug("peer connection state", "state", s.String(), "peer", m.cur.peer)

	switch s {
	case webrtc.PeerConnectionStateConnected:
		if m.state == StateNegotiating {
			m.setState(StateConnected, nil)
		}
	case webrtc.PeerConnectionStateFailed:
		m.fail("connect", m.cur.peer, ErrConnectionFailed)
	}
}

func (m *Machine) setState(s State, err error) {
	m.state = s
	if m.notify != nil {
		m.notify(Transition{State: s, Role: m.role(), Peer: m.peer(), Err: err})
	}
}

func (m *Machine) peer() string {
	if m.cur == nil {
		return ""
	}
	return m.cur.peer
}

func (m *Machine) role() Role {
	if m.cur == nil {
		return RoleUndetermined
	}
	return m.cur.role
}
