package threadstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// InMemoryStore is a size-limited Store. Once a thread holds maxPerThread
// messages the oldest ones are dropped; sequence numbers keep growing.
type InMemoryStore struct {
	mu           sync.Mutex
	maxPerThread int
	threads      map[string]*inMemThread
}

type inMemThread struct {
	seq      int64
	messages []Message
}

var _ Store = &InMemoryStore{}

func NewInMemoryStore(maxPerThread int) *InMemoryStore {
	if maxPerThread <= 0 {
		maxPerThread = 5000
	}
	return &InMemoryStore{
		maxPerThread: maxPerThread,
		threads:      map[string]*inMemThread{},
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) Append(_ context.Context, msg Message) (int64, error) {
	if s == nil {
		return 0, errors.New("in-memory thread store: nil store")
	}
	msg = normalizeMessage(msg, time.Now())
	if msg.ThreadID == "" {
		return 0, errors.New("in-memory thread store: threadID is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[msg.ThreadID]
	if !ok {
		th = &inMemThread{}
		s.threads[msg.ThreadID] = th
	}
	th.seq++
	msg.Seq = th.seq
	th.messages = append(th.messages, msg)
	if over := len(th.messages) - s.maxPerThread; over > 0 {
		th.messages = append([]Message(nil), th.messages[over:]...)
	}
	return msg.Seq, nil
}

func (s *InMemoryStore) List(_ context.Context, threadID string, limit int) ([]Message, error) {
	if s == nil {
		return nil, errors.New("in-memory thread store: nil store")
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, errors.New("in-memory thread store: threadID is empty")
	}
	limit = normalizeLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[threadID]
	if !ok {
		return []Message{}, nil
	}
	msgs := th.messages
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return append([]Message(nil), msgs...), nil
}

func (s *InMemoryStore) Threads(_ context.Context) ([]string, error) {
	if s == nil {
		return nil, errors.New("in-memory thread store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.threads))
	for id := range s.threads {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
