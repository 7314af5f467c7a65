package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiznight-service/internal/domain"
)

// QuestionLoader fetches a round's question set from a backing store
// (e.g., Postgres).
type QuestionLoader interface {
	LoadRound(ctx context.Context, sessionCode string, round int) ([]domain.Question, error)
}

// QuestionRepository caches round question sets with TTL to avoid repeated
// DB hits while a round is being played.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedRound
}

type cachedRound struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedRound),
	}
}

func roundKey(sessionCode string, round int) string {
	return fmt.Sprintf("%s:%d", sessionCode, round)
}

func (r *QuestionRepository) QuestionsForRound(ctx context.Context, sessionCode string, round int) ([]domain.Question, error) {
	key := roundKey(sessionCode, round)
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.questions, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[key]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.questions, nil
		}
		r.mu.RUnlock()

		questions, err := r.loader.LoadRound(ctx, sessionCode, round)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cache[key] = cachedRound{
			questions: questions,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader serves a fixed per-round question set regardless of
// session code (useful for demos and tests).
type StaticQuestionLoader struct {
	rounds map[int][]domain.Question
}

func NewStaticQuestionLoader(rounds map[int][]domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{rounds: rounds}
}

func (l *StaticQuestionLoader) LoadRound(_ context.Context, _ string, round int) ([]domain.Question, error) {
	if questions, ok := l.rounds[round]; ok {
		return questions, nil
	}
	return nil, domain.ErrQuestionNotFound
}
