package boards

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lobby is the board every deployment has; it is never stored or deleted.
const Lobby = "lobby"

// Board is a shared canvas that can be joined via its code.
type Board struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store describes board creation and lookup operations.
type Store interface {
	Create(ctx context.Context) (*Board, error)
	Get(ctx context.Context, code string) (*Board, error)
	Delete(ctx context.Context, code string) error
}

// ErrNotFound is returned when a board code does not exist.
var ErrNotFound = errors.New("board not found")

// ErrReserved is returned when deleting the lobby.
var ErrReserved = errors.New("board is reserved")

var lobbyCreated = time.Now().UTC()

// RedisStore keeps one hash per board under <prefix>:boards:<code>. The hash
// only records when the board was opened; strokes never leave the process.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore scopes board keys under prefix ("sketchboard" when empty).
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "sketchboard"
	}
	return &RedisStore{rdb: rdb, prefix: p}
}

func (s *RedisStore) boardKey(code string) string {
	return fmt.Sprintf("%s:boards:%s", s.prefix, code)
}

// Create opens a board under a fresh code. HSETNX claims the code so two
// servers sharing Redis never hand out the same one.
func (s *RedisStore) Create(ctx context.Context) (*Board, error) {
	for i := 0; i < codeAttempts; i++ {
		code := generateCode()
		now := time.Now().UTC()
		created, err := s.rdb.HSetNX(ctx, s.boardKey(code), "created_at", now.Format(time.RFC3339)).Result()
		if err != nil {
			return nil, fmt.Errorf("store board %s: %w", code, err)
		}
		if created {
			return &Board{Code: code, CreatedAt: now}, nil
		}
	}
	return nil, errCodeSpace
}

// Get resolves a code typed or linked by a user. The lobby needs no lookup.
func (s *RedisStore) Get(ctx context.Context, code string) (*Board, error) {
	code, ok := normalizeCode(code)
	if !ok {
		return nil, ErrNotFound
	}
	if code == Lobby {
		return lobby(), nil
	}

	ts, err := s.rdb.HGet(ctx, s.boardKey(code), "created_at").Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load board %s: %w", code, err)
	}
	createdAt, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		createdAt = time.Time{}
	}
	return &Board{Code: code, CreatedAt: createdAt}, nil
}

// Delete forgets a board code. The lobby is ErrReserved.
func (s *RedisStore) Delete(ctx context.Context, code string) error {
	code, ok := normalizeCode(code)
	switch {
	case !ok:
		return ErrNotFound
	case code == Lobby:
		return ErrReserved
	}
	n, err := s.rdb.Del(ctx, s.boardKey(code)).Result()
	if err != nil {
		return fmt.Errorf("delete board %s: %w", code, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MemoryStore keeps board codes in process, for STORE=memory and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	boards map[string]Board
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{boards: make(map[string]Board)}
}

func (s *MemoryStore) Create(ctx context.Context) (*Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < codeAttempts; i++ {
		code := generateCode()
		if _, taken := s.boards[code]; taken {
			continue
		}
		b := Board{Code: code, CreatedAt: time.Now().UTC()}
		s.boards[code] = b
		return &b, nil
	}
	return nil, errCodeSpace
}

func (s *MemoryStore) Get(ctx context.Context, code string) (*Board, error) {
	code, ok := normalizeCode(code)
	if !ok {
		return nil, ErrNotFound
	}
	if code == Lobby {
		return lobby(), nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.boards[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s *MemoryStore) Delete(ctx context.Context, code string) error {
	code, ok := normalizeCode(code)
	switch {
	case !ok:
		return ErrNotFound
	case code == Lobby:
		return ErrReserved
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boards[code]; !ok {
		return ErrNotFound
	}
	delete(s.boards, code)
	return nil
}

// Board codes are read aloud and typed by hand, so the alphabet skips
// look-alikes (0/o, 1/l/i) and is case-insensitive.
const (
	codeAlphabet = "23456789abcdefghjkmnpqrstuvwxyz"
	codeLen      = 8
	codeAttempts = 5
)

var errCodeSpace = errors.New("failed to generate unique board code")

func generateCode() string {
	b := make([]byte, codeLen)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("board code: %v", err))
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}

// CanonicalCode is the form a board code is stored and run under.
func CanonicalCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func normalizeCode(code string) (string, bool) {
	code = CanonicalCode(code)
	return code, code != ""
}

func lobby() *Board {
	return &Board{Code: Lobby, CreatedAt: lobbyCreated}
}
