package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Capacity is the fixed size of the decision ring. Once full, each append
// evicts the oldest record.
const Capacity = 512

// DefaultTail is how many records Tail returns when the caller does not
// say how many it wants.
const DefaultTail = 20

// Source labels for where a decision entered the gate.
const (
	SourceHTTP = "http"
	SourceTCP  = "tcp"
	SourceDemo = "demo"
)

// Record is one immutable decision entry. PromptIn is the prompt as
// submitted; the sanitized or blocked variant is reconstructible from
// Action and Reason.
type Record struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Source   string    `json:"source"`
	UserID   string    `json:"user_id,omitempty"`
	PromptIn string    `json:"prompt_in"`
	Action   string    `json:"action"`
	Reason   string    `json:"reason,omitempty"`
}

// NewRecord stamps a decision with a fresh ID and the current time.
func NewRecord(source, userID, promptIn, action, reason string) Record {
	return Record{
		ID:       uuid.NewString(),
		Time:     time.Now().UTC(),
		Source:   source,
		UserID:   userID,
		PromptIn: promptIn,
		Action:   action,
		Reason:   reason,
	}
}

// Store is a bounded, append-only ring of decision records. It holds the
// last Capacity decisions for the history endpoints; durable logging is
// the Logger's job. The zero value is ready to use.
type Store struct {
	mu    sync.Mutex
	ring  [Capacity]Record
	next  int // slot the next Append writes
	count int // records held, <= Capacity
}

// NewStore returns an empty decision ring.
func NewStore() *Store {
	return &Store{}
}

// Append inserts a record, evicting the oldest when the ring is full.
func (s *Store) Append(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.next] = r
	s.next = (s.next + 1) % Capacity
	if s.count < Capacity {
		s.count++
	}
}

// Tail returns up to the n most recent records in chronological order,
// oldest first. n <= 0 asks for DefaultTail; n beyond the held history
// returns everything. The result is a copy; callers may keep it.
func (s *Store) Tail(n int) []Record {
	if n <= 0 {
		n = DefaultTail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.count {
		n = s.count
	}
	out := make([]Record, 0, n)
	start := s.next - n
	if start < 0 {
		start += Capacity
	}
	for i := 0; i < n; i++ {
		out = append(out, s.ring[(start+i)%Capacity])
	}
	return out
}

// Len reports how many records the ring currently holds.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
