package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"sketchboard/pkg/canvas/protocol"
)

// Store mirrors the participants connected to a board.
type Store interface {
	Reset(ctx context.Context) error
	Replace(ctx context.Context, participants map[string]protocol.Participant) error
	Participants(ctx context.Context) (map[string]protocol.Participant, error)
}

// RedisStore implements Store using a Redis hash of id -> participant JSON.
type RedisStore struct {
	rdb             *redis.Client
	keyParticipants string
}

// NewRedisStore builds a presence store backed by Redis. Prefix is optional (e.g., "sketchboard:board:lobby").
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "sketchboard"
	}
	return &RedisStore{
		rdb:             rdb,
		keyParticipants: fmt.Sprintf("%s:participants", p),
	}
}

func (s *RedisStore) Reset(ctx context.Context) error {
	return s.rdb.Del(ctx, s.keyParticipants).Err()
}

func (s *RedisStore) Replace(ctx context.Context, participants map[string]protocol.Participant) error {
	fields := make(map[string]interface{}, len(participants))
	for id, p := range participants {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal participant %s: %w", id, err)
		}
		fields[id] = string(data)
	}

	pipe := s.rdb.TxPipeline()
	_ = pipe.Del(ctx, s.keyParticipants)
	if len(fields) > 0 {
		_ = pipe.HSet(ctx, s.keyParticipants, fields)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Participants(ctx context.Context) (map[string]protocol.Participant, error) {
	vals, err := s.rdb.HGetAll(ctx, s.keyParticipants).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]protocol.Participant, len(vals))
	for id, raw := range vals {
		var p protocol.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode participant %s: %w", id, err)
		}
		out[id] = p
	}
	return out, nil
}

// MemoryStore keeps the mirror in process, for single-node setups without Redis.
type MemoryStore struct {
	mu           sync.RWMutex
	participants map[string]protocol.Participant
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{participants: make(map[string]protocol.Participant)}
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.participants)
	return nil
}

func (s *MemoryStore) Replace(ctx context.Context, participants map[string]protocol.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants = maps.Clone(participants)
	if s.participants == nil {
		s.participants = make(map[string]protocol.Participant)
	}
	return nil
}

func (s *MemoryStore) Participants(ctx context.Context) (map[string]protocol.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.participants), nil
}
