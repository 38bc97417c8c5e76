// Package memstore keeps the most recent messages of each channel in process
// memory. It is the fallback cache and history source when Redis or the
// database cannot serve.
package memstore

import (
	"channels/backend/internal/models"
	"context"
	"sync"
)

type ring struct {
	records   []models.Message
	lastIndex int
}

// Store is a set of per-channel ring buffers, oldest entries evicted first.
type Store struct {
	max   int
	chats map[string]*ring
	mux   sync.RWMutex
}

func New(max int) *Store {
	if max < 1 {
		max = 1
	}
	return &Store{max: max, chats: make(map[string]*ring)}
}

// Append adds a copy of m to its channel's buffer.
func (s *Store) Append(_ context.Context, m *models.Message) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	r, ok := s.chats[m.ChannelID]
	if !ok {
		r = &ring{lastIndex: -1}
		s.chats[m.ChannelID] = r
	}

	switch {
	case len(r.records) < s.max:
		r.records = append(r.records, *m)
		r.lastIndex++
	default:
		i := (r.lastIndex + 1) % s.max
		r.records[i] = *m
		r.lastIndex = i
	}
	return nil
}

// Recent returns up to limit of the newest messages, oldest first. A
// non-positive limit returns everything held for the channel.
func (s *Store) Recent(_ context.Context, channelID string, limit int) ([]models.Message, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	r, ok := s.chats[channelID]
	if !ok || len(r.records) == 0 {
		return []models.Message{}, nil
	}

	n := len(r.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	head := 0
	if n == s.max {
		head = (r.lastIndex + 1) % s.max
	}
	start := (head + n - limit) % n

	result := make([]models.Message, limit)
	if start+limit <= n {
		copy(result, r.records[start:start+limit])
	} else {
		n1 := n - start
		copy(result, r.records[start:])
		copy(result[n1:], r.records[:limit-n1])
	}
	return result, nil
}

func (s *Store) Len(channelID string) int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	if r, ok := s.chats[channelID]; ok {
		return len(r.records)
	}
	return 0
}

// Drop forgets a channel, used when a group is deleted.
func (s *Store) Drop(_ context.Context, channelID string) error {
	s.mux.Lock()
	delete(s.chats, channelID)
	s.mux.Unlock()
	return nil
}
