package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/Warpcall/cli/internal/logging"
	"github.com/BioHazard786/Warpcall/cli/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// fakePC records what the machine asks of the engine. Like the real engine
// it refuses candidates before a remote description.
type fakePC struct {
	name string
	obs  Observer

	mu         sync.Mutex
	tracks     int
	offers     int
	answers    int
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     bool

	onCreateOffer func()
}

func (p *fakePC) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks++
	return nil, nil
}

func (p *fakePC) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	if p.onCreateOffer != nil {
		p.onCreateOffer()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("%s-offer-%d", p.name, p.offers)}, nil
}

func (p *fakePC) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	p.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("%s-answer-%d", p.name, p.answers)}, nil
}

func (p *fakePC) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &d
	return nil
}

func (p *fakePC) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = &d
	return nil
}

func (p *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePC) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePC) applied() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.candidates))
	for _, c := range p.candidates {
		out = append(out, c.Candidate)
	}
	return out
}

type fakeFactory struct {
	name string

	mu  sync.Mutex
	pcs []*fakePC

	onCreateOffer func()
}

func (f *fakeFactory) NewPeerConnection(obs Observer) (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pc := &fakePC{name: fmt.Sprintf("%s%d", f.name, len(f.pcs)), obs: obs, onCreateOffer: f.onCreateOffer}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

func (f *fakeFactory) last(t *testing.T) *fakePC {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pcs) == 0 {
		t.Fatal("no peer connection created")
	}
	return f.pcs[len(f.pcs)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pcs)
}

type outbox struct {
	mu   sync.Mutex
	msgs []*signaling.Message
}

func (o *outbox) SendMessage(msg *signaling.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *outbox) ofType(typ string) []*signaling.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*signaling.Message
	for _, m := range o.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// take returns and forgets everything sent so far.
func (o *outbox) take() []*signaling.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.msgs
	o.msgs = nil
	return out
}

type fixture struct {
	m       *Machine
	factory *fakeFactory
	out     *outbox

	mu          sync.Mutex
	transitions []Transition
}

func newFixture(t *testing.T, self string) *fixture {
	t.Helper()
	f := &fixture{factory: &fakeFactory{name: self}, out: &outbox{}}
	f.m = New(Config{
		Self:     self,
		Factory:  f.factory,
		Signaler: f.out,
		Logger:   logging.Discard(),
		Notify: func(tr Transition) {
			f.mu.Lock()
			f.transitions = append(f.transitions, tr)
			f.mu.Unlock()
		},
	})
	return f
}

func testTracks(t *testing.T) []webrtc.TrackLocal {
	t.Helper()
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "warpcall")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample: %v", err)
	}
	return []webrtc.TrackLocal{audio}
}

func newArmed(t *testing.T, self string) *fixture {
	t.Helper()
	f := newFixture(t, self)
	if err := f.m.SetLocalMedia(testTracks(t)); err != nil {
		t.Fatalf("SetLocalMedia: %v", err)
	}
	return f
}

func peerJoined(id string) *signaling.Message {
	return &signaling.Message{Type: signaling.MessageTypePeerJoined, Participant: id}
}

func peerLeft(id string) *signaling.Message {
	return &signaling.Message{Type: signaling.MessageTypePeerLeft, Participant: id}
}

func offerFrom(sender, sdp string) *signaling.Message {
	return &signaling.Message{
		Type:   signaling.MessageTypeOffer,
		Sender: sender,
		SDP:    &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp},
	}
}

func answerFrom(sender, sdp string) *signaling.Message {
	return &signaling.Message{
		Type:   signaling.MessageTypeAnswer,
		Sender: sender,
		SDP:    &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp},
	}
}

func candidateFrom(sender, cand string) *signaling.Message {
	mid := "0"
	return &signaling.Message{
		Type:      signaling.MessageTypeICECandidate,
		Sender:    sender,
		Candidate: &webrtc.ICECandidateInit{Candidate: cand, SDPMid: &mid},
	}
}

func mustHandle(t *testing.T, m *Machine, msg *signaling.Message) {
	t.Helper()
	if err := m.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle(%s from %s): %v", msg.Type, msg.Sender+msg.Participant, err)
	}
}

func expectState(t *testing.T, m *Machine, want State, role Role) {
	t.Helper()
	s := m.Stats()
	if s.State != want || s.Role != role {
		t.Fatalf("state = %s/%s, want %s/%s", s.State, s.Role, want, role)
	}
}

func waitForState(t *testing.T, m *Machine, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", m.State(), want)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSetLocalMedia(t *testing.T) {
	f := newFixture(t, "a")
	expectState(t, f.m, StateIdle, RoleUndetermined)

	if err := f.m.SetLocalMedia(testTracks(t)); err != nil {
		t.Fatalf("SetLocalMedia: %v", err)
	}
	expectState(t, f.m, StateLocalStreamReady, RoleUndetermined)

	if err := f.m.SetLocalMedia(testTracks(t)); !errors.Is(err, ErrAlreadyArmed) {
		t.Fatalf("second SetLocalMedia = %v, want ErrAlreadyArmed", err)
	}
}

func TestSelfMessagesFiltered(t *testing.T) {
	f := newArmed(t, "a")

	for _, msg := range []*signaling.Message{
		peerJoined("a"),
		offerFrom("a", "sdp"),
		answerFrom("a", "sdp"),
		candidateFrom("a", "candidate:1"),
		peerLeft("a"),
	} {
		err := f.m.Handle(context.Background(), msg)
		if !errors.Is(err, ErrSelfMessage) {
			t.Fatalf("Handle(%s) = %v, want ErrSelfMessage", msg.Type, err)
		}
		if !IsDiscard(err) {
			t.Fatalf("self message error should be a discard")
		}
	}

	expectState(t, f.m, StateLocalStreamReady, RoleUndetermined)
	if n := f.factory.count(); n != 0 {
		t.Fatalf("self messages created %d handles", n)
	}
	if msgs := f.out.take(); len(msgs) != 0 {
		t.Fatalf("self messages caused %d sends", len(msgs))
	}
}

func TestMissingSenderDiscarded(t *testing.T) {
	f := newArmed(t, "a")
	err := f.m.Handle(context.Background(), &signaling.Message{Type: signaling.MessageTypeOffer})
	if !errors.Is(err, ErrMissingSender) {
		t.Fatalf("Handle = %v, want ErrMissingSender", err)
	}
}

func TestPeerJoinedBeforeMedia(t *testing.T) {
	f := newFixture(t, "a")
	err := f.m.Handle(context.Background(), peerJoined("b"))
	if !errors.Is(err, ErrMediaNotReady) {
		t.Fatalf("Handle = %v, want ErrMediaNotReady", err)
	}
	expectState(t, f.m, StateIdle, RoleUndetermined)
}

func TestPeerJoinedStartsOffer(t *testing.T) {
	f := newArmed(t, "a")
	mustHandle(t, f.m, peerJoined("b"))

	expectState(t, f.m, StateNegotiating, RoleOfferer)
	pc := f.factory.last(t)
	if pc.tracks != 1 {
		t.Fatalf("tracks attached = %d, want 1", pc.tracks)
	}
	if pc.local == nil || pc.local.Type != webrtc.SDPTypeOffer {
		t.Fatalf("local description = %+v, want offer", pc.local)
	}

	offers := f.out.ofType(signaling.MessageTypeOffer)
	if len(offers) != 1 {
		t.Fatalf("offers sent = %d, want 1", len(offers))
	}
	if offers[0].Target != "b" {
		t.Fatalf("offer target = %q, want peer id b", offers[0].Target)
	}
	if offers[0].SDP.SDP != pc.local.SDP {
		t.Fatalf("sent sdp %q differs from local %q", offers[0].SDP.SDP, pc.local.SDP)
	}

	// Same peer again is a duplicate.
	mustHandle(t, f.m, peerJoined("b"))
	if n := f.factory.count(); n != 1 {
		t.Fatalf("duplicate peer-joined created %d handles", n)
	}
	if len(f.out.ofType(signaling.MessageTypeOffer)) != 1 {
		t.Fatal("duplicate peer-joined sent a second offer")
	}
}

func TestOfferAnsweredOnce(t *testing.T) {
	f := newArmed(t, "b")
	mustHandle(t, f.m, offerFrom("a", "a-offer"))

	expectState(t, f.m, StateNegotiating, RoleAnswerer)
	pc := f.factory.last(t)
	if pc.remote == nil || pc.remote.SDP != "a-offer" {
		t.Fatalf("remote description = %+v", pc.remote)
	}

	answers := f.out.ofType(signaling.MessageTypeAnswer)
	if len(answers) != 1 || answers[0].Target != "a" {
		t.Fatalf("answers = %+v, want one addressed to a", answers)
	}

	mustHandle(t, f.m, offerFrom("a", "a-offer"))
	if n := f.factory.count(); n != 1 {
		t.Fatalf("redelivered offer created %d handles", n)
	}
	if n := len(f.out.ofType(signaling.MessageTypeAnswer)); n != 1 {
		t.Fatalf("redelivered offer sent %d answers", n)
	}
	if pc.isClosed() {
		t.Fatal("redelivered offer closed the live handle")
	}
}

func TestInvalidDescriptionDiscarded(t *testing.T) {
	f := newArmed(t, "b")
	msg := offerFrom("a", "x")
	msg.SDP.Type = webrtc.SDPTypeAnswer
	if err := f.m.Handle(context.Background(), msg); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("Handle = %v, want ErrInvalidMessage", err)
	}
	if err := f.m.Handle(context.Background(), &signaling.Message{Type: signaling.MessageTypeOffer, Sender: "a"}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("Handle(nil sdp) = %v, want ErrInvalidMessage", err)
	}
	expectState(t, f.m, StateLocalStreamReady, RoleUndetermined)
}

func TestPrematureCandidatesAnswerer(t *testing.T) {
	f := newArmed(t, "b")

	mustHandle(t, f.m, candidateFrom("a", "candidate:1"))
	mustHandle(t, f.m, candidateFrom("a", "candidate:2"))
	mustHandle(t, f.m, candidateFrom("a", "candidate:1"))

	if q := f.m.Stats().CandidatesQueued; q != 2 {
		t.Fatalf("queued = %d, want 2", q)
	}

	mustHandle(t, f.m, offerFrom("a", "a-offer"))
	pc := f.factory.last(t)
	if got := pc.applied(); !equalStrings(got, []string{"candidate:1", "candidate:2"}) {
		t.Fatalf("applied = %v, want both candidates once", got)
	}

	mustHandle(t, f.m, candidateFrom("a", "candidate:1"))
	mustHandle(t, f.m, candidateFrom("a", "candidate:3"))
	if got := pc.applied(); !equalStrings(got, []string{"candidate:1", "candidate:2", "candidate:3"}) {
		t.Fatalf("applied = %v", got)
	}

	s := f.m.Stats()
	if s.CandidatesQueued != 0 || s.CandidatesReceived != 3 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestPrematureCandidatesOfferer(t *testing.T) {
	f := newArmed(t, "a")
	mustHandle(t, f.m, peerJoined("b"))

	mustHandle(t, f.m, candidateFrom("b", "candidate:9"))
	pc := f.factory.last(t)
	if len(pc.applied()) != 0 {
		t.Fatal("candidate applied before remote description")
	}

	mustHandle(t, f.m, answerFrom("b", "b-answer"))
	expectState(t, f.m, StateConnected, RoleOfferer)
	if got := pc.applied(); !equalStrings(got, []string{"candidate:9"}) {
		t.Fatalf("applied = %v, want [candidate:9]", got)
	}

	mustHandle(t, f.m, answerFrom("b", "b-answer"))
	if got := pc.applied(); len(got) != 1 {
		t.Fatalf("duplicate answer reapplied candidates: %v", got)
	}
}

func TestCandidatesFromOtherPeersDropped(t *testing.T) {
	f := newArmed(t, "b")
	mustHandle(t, f.m, candidateFrom("c", "candidate:c"))
	mustHandle(t, f.m, offerFrom("a", "a-offer"))

	pc := f.factory.last(t)
	if len(pc.applied()) != 0 {
		t.Fatalf("applied candidates from another peer: %v", pc.applied())
	}
	err := f.m.Handle(context.Background(), candidateFrom("c", "candidate:c2"))
	if !errors.Is(err, ErrForeignPeer) {
		t.Fatalf("Handle = %v, want ErrForeignPeer", err)
	}
}

func TestCandidateQueueBounded(t *testing.T) {
	f := newFixture(t, "b")
	f.m = New(Config{
		Self:                "b",
		Factory:             f.factory,
		Signaler:            f.out,
		Logger:              logging.Discard(),
		MaxQueuedCandidates: 2,
	})
	if err := f.m.SetLocalMedia(nil); err != nil {
		t.Fatalf("SetLocalMedia: %v", err)
	}

	mustHandle(t, f.m, candidateFrom("a", "candidate:1"))
	mustHandle(t, f.m, candidateFrom("a", "candidate:2"))
	err := f.m.Handle(context.Background(), candidateFrom("a", "candidate:3"))
	if !errors.Is(err, ErrCandidateQueueFull) {
		t.Fatalf("Handle = %v, want ErrCandidateQueueFull", err)
	}
}

func TestStaleAnswer(t *testing.T) {
	f := newArmed(t, "a")

	err := f.m.Handle(context.Background(), answerFrom("b", "b-answer"))
	if !errors.Is(err, ErrStaleSessionDescription) {
		t.Fatalf("answer while ready = %v, want ErrStaleSessionDescription", err)
	}
	expectState(t, f.m, StateLocalStreamReady, RoleUndetermined)

	mustHandle(t, f.m, peerJoined("b"))
	err = f.m.Handle(context.Background(), answerFrom("c", "c-answer"))
	if !errors.Is(err, ErrStaleSessionDescription) {
		t.Fatalf("answer from stranger = %v, want ErrStaleSessionDescription", err)
	}
	expectState(t, f.m, StateNegotiating, RoleOfferer)

	// An answerer never accepts an answer.
	g := newArmed(t, "b")
	mustHandle(t, g.m, offerFrom("a", "a-offer"))
	err = g.m.Handle(context.Background(), answerFrom("a", "a-answer"))
	if !errors.Is(err, ErrStaleSessionDescription) {
		t.Fatalf("answer to answerer = %v, want ErrStaleSessionDescription", err)
	}
	expectState(t, g.m, StateNegotiating, RoleAnswerer)
}

func TestRestartOnNewPeer(t *testing.T) {
	f := newArmed(t, "a")
	mustHandle(t, f.m, peerJoined("b"))
	first := f.factory.last(t)

	mustHandle(t, f.m, peerJoined("c"))
	second := f.factory.last(t)

	if first == second {
		t.Fatal("restart reused the old handle")
	}
	if !first.isClosed() {
		t.Fatal("old handle not closed before the new one")
	}
	if s := f.m.Stats(); s.Peer != "c" || s.Handles != 2 {
		t.Fatalf("stats = %+v, want peer c with 2 handles", s)
	}

	offers := f.out.ofType(signaling.MessageTypeOffer)
	if len(offers) != 2 || offers[1].Target != "c" {
		t.Fatalf("offers = %+v", offers)
	}
}

func TestRestartOnNewOffer(t *testing.T) {
	f := newArmed(t, "b")
	mustHandle(t, f.m, offerFrom("a", "a-offer-1"))
	first := f.factory.last(t)

	mustHandle(t, f.m, offerFrom("a", "a-offer-2"))
	second := f.factory.last(t)

	if first == second || !first.isClosed() {
		t.Fatal("a new offer must retire the old handle and create another")
	}
	if second.remote.SDP != "a-offer-2" {
		t.Fatalf("remote = %q, want a-offer-2", second.remote.SDP)
	}
	if n := len(f.out.ofType(signaling.MessageTypeAnswer)); n != 2 {
		t.Fatalf("answers = %d, want 2", n)
	}
}

func TestPeerLeftRetiresHandle(t *testing.T) {
	f := newArmed(t, "a")
	mustHandle(t, f.m, peerJoined("b"))
	mustHandle(t, f.m, answerFrom("b", "b-answer"))
	pc := f.factory.last(t)

	mustHandle(t, f.m, peerLeft("c"))
	if pc.isClosed() {
		t.Fatal("peer-left for a stranger closed the handle")
	}

	mustHandle(t, f.m, peerLeft("b"))
	if !pc.isClosed() {
		t.Fatal("handle still open after peer left")
	}
	expectState(t, f.m, StateLocalStreamReady, RoleUndetermined)

	// A new peer can be negotiated with afterwards.
	mustHandle(t, f.m, peerJoined("d"))
	expectState(t, f.m, StateNegotiating, RoleOfferer)
}

func TestCloseDiscardsLaterMessages(t *testing.T) {
	f := newArmed(t, "a")
	mustHandle(t, f.m, peerJoined("b"))
	mustHandle(t, f.m, candidateFrom("b", "candidate:1"))
	pc := f.factory.last(t)

	if err := f.m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !pc.isClosed() {
		t.Fatal("Close left the handle open")
	}

	s := f.m.Stats()
	if s.State != StateClosed || s.CandidatesQueued != 0 {
		t.Fatalf("stats after close = %+v", s)
	}

	err := f.m.Handle(context.Background(), answerFrom("b", "b-answer"))
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Handle after close = %v, want ErrClosed", err)
	}
	if len(pc.applied()) != 0 {
		t.Fatal("queued candidate applied after close")
	}
}

func TestCloseDuringNegotiation(t *testing.T) {
	f := newArmed(t, "a")
	f.factory.onCreateOffer = func() {
		go f.m.Close()
		for !f.m.closed.Load() {
			time.Sleep(time.Millisecond)
		}
	}

	err := f.m.Handle(context.Background(), peerJoined("b"))
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Handle = %v, want ErrClosed", err)
	}
	if n := len(f.out.ofType(signaling.MessageTypeOffer)); n != 0 {
		t.Fatalf("offer sent after close: %d", n)
	}
	if !f.factory.last(t).isClosed() {
		t.Fatal("in-flight handle not released")
	}
	waitForState(t, f.m, StateClosed)
}

func TestCancelDuringNegotiation(t *testing.T) {
	f := newArmed(t, "a")
	ctx, cancel := context.WithCancel(context.Background())
	f.factory.onCreateOffer = cancel

	err := f.m.Handle(ctx, peerJoined("b"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Handle = %v, want context.Canceled", err)
	}
	if !f.factory.last(t).isClosed() {
		t.Fatal("cancelled handle not released")
	}
	expectState(t, f.m, StateLocalStreamReady, RoleUndetermined)

	f.mu.Lock()
	last := f.transitions[len(f.transitions)-1]
	f.mu.Unlock()
	if last.Err == nil {
		t.Fatal("failure transition carries no error")
	}
}

func TestStaleCallbacksIgnored(t *testing.T) {
	f := newArmed(t, "a")
	mustHandle(t, f.m, peerJoined("b"))
	old := f.factory.last(t)
	mustHandle(t, f.m, peerJoined("c"))
	cur := f.factory.last(t)
	f.out.take()

	old.obs.OnCandidate(webrtc.ICECandidateInit{Candidate: "candidate:old"})
	old.obs.OnConnectionState(webrtc.PeerConnectionStateFailed)

	cur.obs.OnCandidate(webrtc.ICECandidateInit{Candidate: "candidate:new"})

	sent := f.out.ofType(signaling.MessageTypeICECandidate)
	if len(sent) != 1 {
		t.Fatalf("candidates sent = %d, want 1", len(sent))
	}
	if sent[0].Target != "c" || sent[0].Candidate.Candidate != "candidate:new" {
		t.Fatalf("candidate = %+v", sent[0])
	}

	time.Sleep(20 * time.Millisecond)
	expectState(t, f.m, StateNegotiating, RoleOfferer)
}

func TestAnswererConnectsOnEngineState(t *testing.T) {
	f := newArmed(t, "b")
	mustHandle(t, f.m, offerFrom("a", "a-offer"))

	f.factory.last(t).obs.OnConnectionState(webrtc.PeerConnectionStateConnected)
	waitForState(t, f.m, StateConnected)
}

func TestEngineReportsAppliedInOrder(t *testing.T) {
	f := newArmed(t, "b")
	mustHandle(t, f.m, offerFrom("a", "a-offer"))
	pc := f.factory.last(t)

	pc.obs.OnConnectionState(webrtc.PeerConnectionStateConnected)
	pc.obs.OnConnectionState(webrtc.PeerConnectionStateFailed)
	waitForState(t, f.m, StateLocalStreamReady)

	f.mu.Lock()
	var got []State
	for _, tr := range f.transitions {
		got = append(got, tr.State)
	}
	last := f.transitions[len(f.transitions)-1]
	f.mu.Unlock()

	want := []State{StateLocalStreamReady, StateNegotiating, StateConnected, StateLocalStreamReady}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
	}
	if !errors.Is(last.Err, ErrConnectionFailed) {
		t.Fatalf("final transition error = %v, want ErrConnectionFailed", last.Err)
	}

	s := f.m.Stats()
	if s.Peer != "" || s.LastPeer != "a" || s.LastRole != RoleAnswerer {
		t.Fatalf("stats after failure = %+v", s)
	}
}

func TestEngineFailureRetiresHandle(t *testing.T) {
	f := newArmed(t, "b")
	mustHandle(t, f.m, offerFrom("a", "a-offer"))
	pc := f.factory.last(t)

	pc.obs.OnConnectionState(webrtc.PeerConnectionStateFailed)
	waitForState(t, f.m, StateLocalStreamReady)
	if !pc.isClosed() {
		t.Fatal("failed handle not closed")
	}
}

// relay delivers everything one machine sent to the other, stamping the
// sender the way the server does.
func relay(t *testing.T, from string, out *outbox, to *Machine, keep func(*signaling.Message) bool) []*signaling.Message {
	t.Helper()
	var held []*signaling.Message
	for _, msg := range out.take() {
		if keep != nil && keep(msg) {
			held = append(held, msg)
			continue
		}
		fwd := *msg
		fwd.Sender = from
		fwd.Target = ""
		mustHandle(t, to, &fwd)
	}
	return held
}

func TestTwoPartyScenario(t *testing.T) {
	for _, candidatesFirst := range []bool{true, false} {
		t.Run(fmt.Sprintf("candidatesBeforeAnswer=%v", candidatesFirst), func(t *testing.T) {
			a := newArmed(t, "A")
			b := newArmed(t, "B")

			// A is alone in the room; B's join notifies A.
			mustHandle(t, a.m, peerJoined("B"))
			expectState(t, a.m, StateNegotiating, RoleOfferer)

			a.factory.last(t).obs.OnCandidate(webrtc.ICECandidateInit{Candidate: "candidate:a1"})
			relay(t, "A", a.out, b.m, nil)
			expectState(t, b.m, StateNegotiating, RoleAnswerer)

			b.factory.last(t).obs.OnCandidate(webrtc.ICECandidateInit{Candidate: "candidate:b1"})

			isAnswer := func(m *signaling.Message) bool { return m.Type == signaling.MessageTypeAnswer }
			isCandidate := func(m *signaling.Message) bool { return m.Type == signaling.MessageTypeICECandidate }

			var held []*signaling.Message
			if candidatesFirst {
				held = relay(t, "B", b.out, a.m, isAnswer)
			} else {
				held = relay(t, "B", b.out, a.m, isCandidate)
			}
			for _, msg := range held {
				fwd := *msg
				fwd.Sender = "B"
				mustHandle(t, a.m, &fwd)
			}

			expectState(t, a.m, StateConnected, RoleOfferer)
			b.factory.last(t).obs.OnConnectionState(webrtc.PeerConnectionStateConnected)
			waitForState(t, b.m, StateConnected)

			if got := a.factory.last(t).applied(); !equalStrings(got, []string{"candidate:b1"}) {
				t.Fatalf("A applied %v", got)
			}
			if got := b.factory.last(t).applied(); !equalStrings(got, []string{"candidate:a1"}) {
				t.Fatalf("B applied %v", got)
			}
			if a.factory.count() != 1 || b.factory.count() != 1 {
				t.Fatalf("handles: A=%d B=%d, want 1 each", a.factory.count(), b.factory.count())
			}
		})
	}
}
