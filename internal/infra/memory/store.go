package memory

import (
	"context"
	"sync"

	"quiznight-service/internal/domain"
)

// Store is an in-memory implementation of app.Store, backing tests and
// database-less runs. It mirrors the durable schema closely enough to
// answer reads the orchestrator never issues in-process (team lists,
// session lookups) for inspection from tests.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session          // by ID
	byCode   map[string]string                  // code -> ID
	teams    map[string]map[string]domain.Team  // sessionID -> teamID
	answers  map[string][]domain.Answer         // sessionID
	events   map[string][]domain.SessionEvent   // sessionID
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]domain.Session),
		byCode:   make(map[string]string),
		teams:    make(map[string]map[string]domain.Team),
		answers:  make(map[string][]domain.Answer),
		events:   make(map[string][]domain.SessionEvent),
	}
}

func (s *Store) CreateSession(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	s.byCode[sess.Code] = sess.ID
	return nil
}

func (s *Store) GetSessionByCode(_ context.Context, code string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s.sessions[id], nil
}

func (s *Store) UpdateSessionState(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Store) ListTeams(_ context.Context, sessionID string) ([]domain.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	teams := make([]domain.Team, 0, len(s.teams[sessionID]))
	for _, t := range s.teams[sessionID] {
		teams = append(teams, t)
	}
	return teams, nil
}

func (s *Store) UpsertTeam(_ context.Context, sessionID string, team domain.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.teams[sessionID] == nil {
		s.teams[sessionID] = make(map[string]domain.Team)
	}
	s.teams[sessionID][team.ID] = team
	return nil
}

func (s *Store) IncrementTeamPoints(_ context.Context, sessionID, teamID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	team, ok := s.teams[sessionID][teamID]
	if !ok {
		return domain.ErrTeamNotFound
	}
	team.Points += delta
	s.teams[sessionID][teamID] = team
	return nil
}

func (s *Store) CreateAnswer(_ context.Context, sessionID string, ans domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[sessionID] = append(s.answers[sessionID], ans)
	return nil
}

func (s *Store) UpdateAnswerScore(_ context.Context, sessionID string, ans domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.answers[sessionID] {
		a := &s.answers[sessionID][i]
		if a.TeamID == ans.TeamID && a.QuestionID == ans.QuestionID {
			a.Verdict = ans.Verdict
			a.Awarded = ans.Awarded
			return nil
		}
	}
	return domain.ErrAnswerNotFound
}

func (s *Store) AppendEvent(_ context.Context, ev domain.SessionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.SessionID] = append(s.events[ev.SessionID], ev)
	return nil
}

// Events exposes the audit trail for assertions in tests.
func (s *Store) Events(sessionID string) []domain.SessionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SessionEvent, len(s.events[sessionID]))
	copy(out, s.events[sessionID])
	return out
}

// Answers exposes stored answers for assertions in tests.
func (s *Store) Answers(sessionID string) []domain.Answer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Answer, len(s.answers[sessionID]))
	copy(out, s.answers[sessionID])
	return out
}
