package negotiation

import (
	"strconv"

	"github.com/pion/webrtc/v4"
)

// DefaultMaxQueuedCandidates bounds candidates held before a remote
// description exists.
const DefaultMaxQueuedCandidates = 128

type queuedCandidate struct {
	from      string
	key       string
	candidate webrtc.ICECandidateInit
}

// candidateQueue holds remote candidates that arrived before the remote
// description. Entries are unique by sender and content.
type candidateQueue struct {
	max     int
	entries []queuedCandidate
	keys    map[string]struct{}
}

func newCandidateQueue(max int) *candidateQueue {
	if max <= 0 {
		max = DefaultMaxQueuedCandidates
	}
	return &candidateQueue{max: max, keys: make(map[string]struct{})}
}

// push reports false when the queue is full. Duplicates are accepted
// silently and stored once.
func (q *candidateQueue) push(from, key string, c webrtc.ICECandidateInit) bool {
	if q.has(key) {
		return true
	}
	if len(q.entries) >= q.max {
		return false
	}
	q.entries = append(q.entries, queuedCandidate{from: from, key: key, candidate: c})
	q.keys[key] = struct{}{}
	return true
}

func (q *candidateQueue) has(key string) bool {
	_, ok := q.keys[key]
	return ok
}

// drain empties the queue and returns the entries sent by from, in arrival
// order. Entries from anyone else are discarded.
func (q *candidateQueue) drain(from string) []queuedCandidate {
	var out []queuedCandidate
	for _, e := range q.entries {
		if e.from == from {
			out = append(out, e)
		}
	}
	q.reset()
	return out
}

// retain drops every entry not sent by from.
func (q *candidateQueue) retain(from string) {
	q.filter(func(e queuedCandidate) bool { return e.from == from })
}

// dropFrom drops every entry sent by from.
func (q *candidateQueue) dropFrom(from string) {
	q.filter(func(e queuedCandidate) bool { return e.from != from })
}

func (q *candidateQueue) filter(keep func(queuedCandidate) bool) {
	kept := q.entries[:0]
	for _, e := range q.entries {
		if keep(e) {
			kept = append(kept, e)
			continue
		}
		delete(q.keys, e.key)
	}
	q.entries = kept
}

func (q *candidateQueue) reset() {
	q.entries = nil
	q.keys = make(map[string]struct{})
}

func (q *candidateQueue) len() int {
	return len(q.entries)
}

func candidateKey(from string, c webrtc.ICECandidateInit) string {
	key := from + "\x00" + c.Candidate
	if c.SDPMid != nil {
		key += "\x00" + *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		key += "\x00" + strconv.Itoa(int(*c.SDPMLineIndex))
	}
	return key
}

func descriptionKey(from string, d webrtc.SessionDescription) string {
	return from + "\x00" + d.Type.String() + "\x00" + d.SDP
}
