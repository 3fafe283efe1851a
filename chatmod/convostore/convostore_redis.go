package convostore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisConvoPrefix string = "convo/"

// expiration on per-channel windows; quiet channels age out
var redisConvoTTL = 24 * time.Hour

type RedisConvoStore struct {
	Client *redis.Client
}

func NewRedisConvoStore(redisURL string) (*RedisConvoStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	rcs := RedisConvoStore{
		Client: rdb,
	}
	return &rcs, nil
}

func (s *RedisConvoStore) Get(ctx context.Context, channelID string) ([]ConvoEntry, error) {
	key := redisConvoPrefix + channelID
	raw, err := s.Client.LRange(ctx, key, int64(-WindowSize), -1).Result()
	if err == redis.Nil {
		return []ConvoEntry{}, nil
	} else if err != nil {
		return nil, err
	}
	window := make([]ConvoEntry, 0, len(raw))
	for _, item := range raw {
		var entry ConvoEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, err
		}
		window = append(window, entry)
	}
	return window, nil
}

func (s *RedisConvoStore) Append(ctx context.Context, channelID string, entry ConvoEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := redisConvoPrefix + channelID

	// append, trim to the window, and refresh expiration in a single round-trip
	multi := s.Client.Pipeline()
	multi.RPush(ctx, key, raw)
	multi.LTrim(ctx, key, int64(-WindowSize), -1)
	multi.Expire(ctx, key, redisConvoTTL)
	_, err = multi.Exec(ctx)
	return err
}
