package app

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiznight-service/internal/domain"
)

// questionPhase is the sub-state within an active session.
type questionPhase int

const (
	phaseNoQuestion questionPhase = iota
	phaseRunning
	phaseReview
	phaseLeaderboard
)

// Session is the single in-memory authoritative copy of one live quiz. All
// mutation flows through the orchestrator, which holds mu for the full
// validate-mutate-broadcast sequence, so effects become visible to the room
// in event-arrival order.
type Session struct {
	mu sync.Mutex

	id        string
	code      string
	name      string
	status    domain.SessionStatus
	round     int
	phase     questionPhase
	current   *domain.Question
	timeLimit int
	deadline  time.Time
	createdAt time.Time
	now       func() time.Time

	// Team names are unique per session after trimming and case folding;
	// rejoining under the same folded name recovers the same team.
	teams     map[string]*domain.Team
	teamsByID map[string]*domain.Team

	// answers is the ledger: questionID -> teamID -> answer. A question gets
	// an entry when started, so review lookups can tell "never started" from
	// "no submissions".
	answers map[string]map[string]*domain.Answer

	room  *Room
	timer *countdown
}

// NewSession builds a session in the waiting state, round 1.
func NewSession(id, code, name string) *Session {
	return NewSessionWithClock(id, code, name, time.Now)
}

// NewSessionWithClock allows deterministic timestamps in tests.
func NewSessionWithClock(id, code, name string, now func() time.Time) *Session {
	return &Session{
		id:        id,
		code:      code,
		name:      name,
		status:    domain.SessionWaiting,
		round:     1,
		phase:     phaseNoQuestion,
		createdAt: now(),
		now:       now,
		teams:     make(map[string]*domain.Team),
		teamsByID: make(map[string]*domain.Team),
		answers:   make(map[string]map[string]*domain.Answer),
		room:      newRoom(),
	}
}

// Code returns the session's join code.
func (s *Session) Code() string { return s.code }

// ID returns the session's durable identifier.
func (s *Session) ID() string { return s.id }

func foldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// joinLocked creates or recovers a team. A name that folds to an existing
// team's name is the same team reconnecting, never a new one.
func (s *Session) joinLocked(name string) (*domain.Team, bool, error) {
	if s.status == domain.SessionFinished {
		return nil, false, domain.ErrSessionFinished
	}

	now := s.now()
	key := foldName(name)
	if team, ok := s.teams[key]; ok {
		team.LastSeen = now
		return team, true, nil
	}

	team := &domain.Team{
		ID:       uuid.NewString(),
		Name:     strings.TrimSpace(name),
		JoinedAt: now,
		LastSeen: now,
	}
	s.teams[key] = team
	s.teamsByID[team.ID] = team
	return team, false, nil
}

func (s *Session) canStartQuestionLocked() error {
	if s.status == domain.SessionFinished {
		return domain.ErrSessionFinished
	}
	if s.phase == phaseRunning {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (s *Session) startQuestionLocked(q domain.Question, limit int) {
	s.status = domain.SessionActive
	s.phase = phaseRunning
	s.current = &q
	s.timeLimit = limit
	s.deadline = s.now().Add(time.Duration(limit) * time.Second)
	if _, ok := s.answers[q.ID]; !ok {
		s.answers[q.ID] = make(map[string]*domain.Answer)
	}
}

// canEndQuestionLocked reports whether ending is a real transition, an
// idempotent no-op (the question already closed, e.g. timer expiry racing a
// manual end), or illegal.
func (s *Session) canEndQuestionLocked(questionID string) (noop bool, err error) {
	if s.phase == phaseRunning {
		if questionID != "" && s.current != nil && s.current.ID != questionID {
			// A stale timer for a previous question must not close the new one.
			return true, nil
		}
		return false, nil
	}
	if s.current != nil {
		return true, nil
	}
	return false, domain.ErrInvalidTransition
}

func (s *Session) endQuestionLocked() domain.Question {
	q := *s.current
	s.phase = phaseReview
	s.deadline = time.Time{}
	return q
}

func (s *Session) canShowReviewLocked(questionID string) error {
	if s.status == domain.SessionFinished {
		return domain.ErrSessionFinished
	}
	if s.phase == phaseRunning {
		return domain.ErrInvalidTransition
	}
	if _, ok := s.answers[questionID]; !ok {
		return domain.ErrQuestionNotFound
	}
	return nil
}

// answersForLocked returns the ledger entries for a question in submission
// order.
func (s *Session) answersForLocked(questionID string) []domain.Answer {
	byTeam := s.answers[questionID]
	out := make([]domain.Answer, 0, len(byTeam))
	for _, a := range byTeam {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

func (s *Session) canShowLeaderboardLocked() error {
	if s.status == domain.SessionFinished {
		return domain.ErrSessionFinished
	}
	if s.phase != phaseReview && s.phase != phaseLeaderboard {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (s *Session) showLeaderboardLocked() {
	s.phase = phaseLeaderboard
	s.current = nil
}

func (s *Session) canNextRoundLocked() error {
	if s.status == domain.SessionFinished {
		return domain.ErrSessionFinished
	}
	if s.phase == phaseRunning {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (s *Session) nextRoundLocked() int {
	s.round++
	s.phase = phaseNoQuestion
	s.current = nil
	return s.round
}

func (s *Session) endSessionLocked() {
	s.status = domain.SessionFinished
	s.phase = phaseNoQuestion
	s.current = nil
	s.deadline = time.Time{}
}

// canSubmitLocked enforces the at-most-once rule and the running-question
// gate.
func (s *Session) canSubmitLocked(teamID, questionID string) error {
	if s.phase != phaseRunning || s.current == nil || s.current.ID != questionID {
		return domain.ErrQuestionNotActive
	}
	if _, ok := s.teamsByID[teamID]; !ok {
		return domain.ErrTeamNotFound
	}
	if _, dup := s.answers[questionID][teamID]; dup {
		return domain.ErrDuplicateSubmission
	}
	return nil
}

// applyAnswerLocked records the answer and credits the team when the
// verdict is already known. Returns the team's new total and the number of
// submissions for the question.
func (s *Session) applyAnswerLocked(ans *domain.Answer) (total, submissions int) {
	s.answers[ans.QuestionID][ans.TeamID] = ans
	team := s.teamsByID[ans.TeamID]
	if ans.Verdict == domain.VerdictCorrect {
		team.Points += ans.Awarded
	}
	team.LastSeen = ans.SubmittedAt
	return team.Points, len(s.answers[ans.QuestionID])
}

// canScoreAnswerLocked gates the presenter's manual verdict for open-text
// and media answers.
func (s *Session) canScoreAnswerLocked(questionID, teamID string) error {
	if s.status == domain.SessionFinished {
		return domain.ErrSessionFinished
	}
	if s.phase == phaseRunning {
		return domain.ErrInvalidTransition
	}
	byTeam, ok := s.answers[questionID]
	if !ok {
		return domain.ErrQuestionNotFound
	}
	if _, ok := byTeam[teamID]; !ok {
		return domain.ErrAnswerNotFound
	}
	return nil
}

// scoreAnswerLocked applies a manual verdict, adjusting the team total by
// the delta so a re-score never double-counts.
func (s *Session) scoreAnswerLocked(questionID, teamID string, points int, correct bool) (domain.Answer, int) {
	ans := s.answers[questionID][teamID]
	team := s.teamsByID[teamID]

	delta := -ans.Awarded
	ans.Awarded = 0
	if correct {
		ans.Verdict = domain.VerdictCorrect
		ans.Awarded = points
		delta += points
	} else {
		ans.Verdict = domain.VerdictIncorrect
	}
	team.Points += delta
	return *ans, team.Points
}

// leaderboardLocked snapshots teams sorted by points desc, then earliest
// activity, then name.
func (s *Session) leaderboardLocked() []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(s.teamsByID))
	for _, team := range s.teamsByID {
		entries = append(entries, domain.LeaderboardEntry{
			TeamID:      team.ID,
			Name:        team.Name,
			TotalPoints: team.Points,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TotalPoints != entries[j].TotalPoints {
			return entries[i].TotalPoints > entries[j].TotalPoints
		}
		ti := s.teamsByID[entries[i].TeamID]
		tj := s.teamsByID[entries[j].TeamID]
		if !ti.LastSeen.Equal(tj.LastSeen) {
			return ti.LastSeen.Before(tj.LastSeen)
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// remainingLocked is the elapsed-adjusted countdown, in whole seconds
// rounded up. The deadline, not the tick stream, is authoritative.
func (s *Session) remainingLocked() int {
	if s.phase != phaseRunning || s.deadline.IsZero() {
		return 0
	}
	left := s.deadline.Sub(s.now())
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

// snapshotLocked returns everything a late joiner needs to match the view
// of an already-connected socket.
func (s *Session) snapshotLocked() (teams []domain.LeaderboardEntry, current *domain.Question, limit, remaining int) {
	teams = s.leaderboardLocked()
	if s.phase == phaseRunning && s.current != nil {
		q := s.current.Public()
		current = &q
		limit = s.timeLimit
		remaining = s.remainingLocked()
	}
	return teams, current, limit, remaining
}

func (s *Session) persisted() domain.Session {
	currentID := ""
	if s.current != nil {
		currentID = s.current.ID
	}
	return domain.Session{
		ID:                s.id,
		Code:              s.code,
		Name:              s.name,
		Status:            s.status,
		Round:             s.round,
		CurrentQuestionID: currentID,
		CreatedAt:         s.createdAt,
		UpdatedAt:         s.now(),
	}
}
