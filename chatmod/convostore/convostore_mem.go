package convostore

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type MemConvoStore struct {
	Data *expirable.LRU[string, []ConvoEntry]
}

// capacity bounds the number of tracked channels; ttl expires windows for
// channels that have gone quiet. Windows do not survive process restart.
func NewMemConvoStore(capacity int, ttl time.Duration) MemConvoStore {
	return MemConvoStore{
		Data: expirable.NewLRU[string, []ConvoEntry](capacity, nil, ttl),
	}
}

func (s MemConvoStore) Get(ctx context.Context, channelID string) ([]ConvoEntry, error) {
	window, ok := s.Data.Get(channelID)
	if !ok {
		return []ConvoEntry{}, nil
	}
	return window, nil
}

func (s MemConvoStore) Append(ctx context.Context, channelID string, entry ConvoEntry) error {
	window, _ := s.Data.Get(channelID)
	window = append(window, entry)
	if len(window) > WindowSize {
		window = window[len(window)-WindowSize:]
	}
	s.Data.Add(channelID, window)
	return nil
}
