package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quiznight-service/internal/app"
)

// SessionRegistry is a Redis-aware implementation of app.SessionRegistry.
// Notes:
//   - It keeps a local in-memory map of sessions because the room and timer
//     state are process-local; Redis marks code liveness so code allocation
//     is collision-safe across instances.
//   - For true distribution you'd pair this with a pub/sub projector that
//     fans out room broadcasts.
type SessionRegistry struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionRegistry(client *redis.Client, ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*app.Session),
	}
}

func (r *SessionRegistry) PutIfAbsent(code string, s *app.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[code]; ok {
		return false
	}
	// SETNX claims the code cluster-wide before the local write.
	claimed, err := r.client.SetNX(context.Background(), r.key(code), "1", r.ttl).Result()
	if err == nil && !claimed {
		return false
	}
	r.sessions[code] = s
	return true
}

func (r *SessionRegistry) Get(code string) (*app.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[code]
	return s, ok
}

func (r *SessionRegistry) Delete(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, code)
	_ = r.client.Del(context.Background(), r.key(code)).Err()
}

func (r *SessionRegistry) key(code string) string {
	return "quiznight:session:" + code
}
