package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"quiznight-service/internal/domain"
	"quiznight-service/internal/scoring"
)

// SessionRegistry abstracts how live sessions are tracked (in-memory,
// Redis-backed, etc).
type SessionRegistry interface {
	// PutIfAbsent reserves code for s; false means the code is taken.
	PutIfAbsent(code string, s *Session) bool
	Get(code string) (*Session, bool)
	Delete(code string)
}

// QuestionRepository loads the question set for a session round
// (from cache/backing store).
type QuestionRepository interface {
	QuestionsForRound(ctx context.Context, sessionCode string, round int) ([]domain.Question, error)
}

// Store is the durable system-of-record. Every call is treated as a
// fallible remote call; the orchestrator never broadcasts a state change
// whose persistence failed.
type Store interface {
	CreateSession(ctx context.Context, s domain.Session) error
	GetSessionByCode(ctx context.Context, code string) (domain.Session, error)
	UpdateSessionState(ctx context.Context, s domain.Session) error
	ListTeams(ctx context.Context, sessionID string) ([]domain.Team, error)
	UpsertTeam(ctx context.Context, sessionID string, team domain.Team) error
	IncrementTeamPoints(ctx context.Context, sessionID, teamID string, delta int) error
	CreateAnswer(ctx context.Context, sessionID string, ans domain.Answer) error
	UpdateAnswerScore(ctx context.Context, sessionID string, ans domain.Answer) error
	AppendEvent(ctx context.Context, ev domain.SessionEvent) error
}

const defaultQuestionSeconds = 30

// Service is the session orchestrator. Every inbound action runs
// validate -> persist -> mutate -> broadcast under the session's lock, so a
// room observes effects in event-arrival order and rejected actions are
// invisible to everyone but the caller.
type Service struct {
	sessions  SessionRegistry
	questions QuestionRepository
	store     Store
	policy    scoring.Policy

	questionSeconds int
	tick            time.Duration
	now             func() time.Time
}

// Option tweaks service behavior; used by tests for deterministic time.
type Option func(*Service)

// WithTickInterval overrides the one-second countdown tick.
func WithTickInterval(d time.Duration) Option {
	return func(s *Service) { s.tick = d }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(sessions SessionRegistry, questions QuestionRepository, store Store, policy scoring.Policy, questionSeconds int, opts ...Option) *Service {
	s := &Service{
		sessions:        sessions,
		questions:       questions,
		store:           store,
		policy:          policy,
		questionSeconds: questionSeconds,
		tick:            time.Second,
		now:             time.Now,
	}
	if s.questionSeconds <= 0 {
		s.questionSeconds = defaultQuestionSeconds
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession allocates a collision-free join code and persists the new
// session in the waiting state.
func (svc *Service) CreateSession(ctx context.Context, name string) (domain.Session, error) {
	var sess *Session
	for attempt := 0; ; attempt++ {
		code, err := newSessionCode()
		if err != nil {
			return domain.Session{}, err
		}
		sess = NewSessionWithClock(uuid.NewString(), code, name, svc.now)
		if svc.sessions.PutIfAbsent(code, sess) {
			break
		}
		if attempt >= 10 {
			return domain.Session{}, fmt.Errorf("could not allocate a unique session code")
		}
	}

	record := sess.persisted()
	if err := svc.store.CreateSession(ctx, record); err != nil {
		svc.sessions.Delete(sess.code)
		return domain.Session{}, fmt.Errorf("persist session: %w", err)
	}
	if err := svc.appendEvent(ctx, sess.id, domain.EventSessionCreated, sess.code); err != nil {
		svc.sessions.Delete(sess.code)
		return domain.Session{}, err
	}
	return record, nil
}

// AttachPresenter connects a presenter socket and replays authoritative
// state, so a refreshed presenter view catches up without a resync protocol.
func (svc *Service) AttachPresenter(ctx context.Context, code string) (*Client, error) {
	sess, ok := svc.sessions.Get(code)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	c := sess.room.attach(RolePresenter, "")
	svc.replayLocked(sess, c)
	return c, nil
}

// Join creates or recovers a team, attaches its socket, replays state to
// the joiner, and announces the team to the presenter.
func (svc *Service) Join(ctx context.Context, code, teamName string) (*Client, domain.Team, error) {
	sess, ok := svc.sessions.Get(code)
	if !ok {
		return nil, domain.Team{}, domain.ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	team, rejoined, err := sess.joinLocked(teamName)
	if err != nil {
		return nil, domain.Team{}, err
	}
	if err := svc.store.UpsertTeam(ctx, sess.id, *team); err != nil {
		if !rejoined {
			delete(sess.teams, foldName(team.Name))
			delete(sess.teamsByID, team.ID)
		}
		return nil, domain.Team{}, fmt.Errorf("persist team: %w", err)
	}

	c := sess.room.attach(RoleTeam, team.ID)
	svc.replayLocked(sess, c)
	sess.room.toPresenter(domain.Event{Type: domain.EvtTeamJoined, Payload: domain.TeamJoinedPayload{
		TeamID:      team.ID,
		Name:        team.Name,
		TotalPoints: team.Points,
		Rejoined:    rejoined,
	}})
	return c, *team, nil
}

// replayLocked sends the roster and, mid-question, the active question with
// the elapsed-adjusted remaining time to a newly attached socket.
func (svc *Service) replayLocked(sess *Session, c *Client) {
	teams, current, limit, remaining := sess.snapshotLocked()
	sess.room.to(c, domain.Event{Type: domain.EvtExistingTeams, Payload: domain.ExistingTeamsPayload{Teams: teams}})
	if current != nil {
		sess.room.to(c, domain.Event{Type: domain.EvtQuestionStarted, Payload: domain.QuestionStartedPayload{
			Question:  *current,
			TimeLimit: limit,
			Remaining: remaining,
		}})
	}
}

// Leave removes the socket as a broadcast target. Team identity and score
// survive; no session-level transition is cancelled.
func (svc *Service) Leave(code string, c *Client) {
	if sess, ok := svc.sessions.Get(code); ok {
		sess.room.detach(c)
	}
}

// StartQuestion opens a question for submissions and starts the countdown.
// Presenter only.
func (svc *Service) StartQuestion(ctx context.Context, code string, c *Client, questionID string) error {
	sess, err := svc.presenterSession(code, c)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.canStartQuestionLocked(); err != nil {
		return err
	}

	questions, err := svc.questions.QuestionsForRound(ctx, sess.code, sess.round)
	if err != nil {
		return fmt.Errorf("load round questions: %w", err)
	}
	var question *domain.Question
	for i := range questions {
		if questions[i].ID == questionID {
			question = &questions[i]
			break
		}
	}
	if question == nil {
		return domain.ErrQuestionNotFound
	}

	limit := question.TimeLimit
	if limit <= 0 {
		limit = svc.questionSeconds
	}

	next := sess.persisted()
	next.Status = domain.SessionActive
	next.CurrentQuestionID = question.ID
	if err := svc.store.UpdateSessionState(ctx, next); err != nil {
		return fmt.Errorf("persist question start: %w", err)
	}
	if err := svc.appendEvent(ctx, sess.id, domain.EventQuestionStarted, question.ID); err != nil {
		return err
	}

	sess.startQuestionLocked(*question, limit)
	sess.timer = startCountdown(limit, svc.tick,
		func(remaining int) {
			sess.room.broadcast(domain.Event{Type: domain.EvtTimerTick, Payload: domain.TimerTickPayload{
				QuestionID: question.ID,
				Remaining:  remaining,
			}})
		},
		func() {
			if err := svc.endQuestion(context.Background(), sess, question.ID); err != nil {
				log.Printf("timer close for question %s: %v", question.ID, err)
			}
		},
	)

	sess.room.broadcast(domain.Event{Type: domain.EvtQuestionStarted, Payload: domain.QuestionStartedPayload{
		Question:  question.Public(),
		TimeLimit: limit,
		Remaining: limit,
	}})
	return nil
}

// SubmitAnswer records a team's answer, scores it when the type allows,
// acks the submitter privately, and tells the presenter the new submission
// count without revealing contents.
func (svc *Service) SubmitAnswer(ctx context.Context, code string, c *Client, questionID string, sub domain.Submission) error {
	sess, ok := svc.sessions.Get(code)
	if !ok {
		return domain.ErrSessionNotFound
	}
	if c.role != RoleTeam || c.teamID == "" {
		return domain.ErrUnauthorizedAction
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.canSubmitLocked(c.teamID, questionID); err != nil {
		return err
	}

	res := scoring.Score(*sess.current, sub, svc.policy)
	ans := domain.Answer{
		TeamID:      c.teamID,
		TeamName:    sess.teamsByID[c.teamID].Name,
		QuestionID:  questionID,
		Submitted:   sub,
		Verdict:     res.Verdict,
		Awarded:     res.Points,
		SubmittedAt: svc.now(),
	}

	if err := svc.store.CreateAnswer(ctx, sess.id, ans); err != nil {
		return fmt.Errorf("persist answer: %w", err)
	}
	if ans.Verdict == domain.VerdictCorrect && ans.Awarded != 0 {
		if err := svc.store.IncrementTeamPoints(ctx, sess.id, ans.TeamID, ans.Awarded); err != nil {
			return fmt.Errorf("persist team points: %w", err)
		}
	}

	total, submissions := sess.applyAnswerLocked(&ans)

	sess.room.toPresenter(domain.Event{Type: domain.EvtAnswerReceived, Payload: domain.AnswerReceivedPayload{
		TeamID:      ans.TeamID,
		TeamName:    ans.TeamName,
		QuestionID:  questionID,
		Submissions: submissions,
	}})
	sess.room.to(c, domain.Event{Type: domain.EvtAnswerAck, Payload: domain.AnswerAckPayload{
		QuestionID:  questionID,
		Verdict:     ans.Verdict,
		Awarded:     ans.Awarded,
		TotalPoints: total,
	}})
	return nil
}

// EndQuestion closes the running question. Presenter only; the timer path
// goes through the same transition, so racing the two is safe.
func (svc *Service) EndQuestion(ctx context.Context, code string, c *Client) error {
	sess, err := svc.presenterSession(code, c)
	if err != nil {
		return err
	}
	return svc.endQuestion(ctx, sess, "")
}

// endQuestion is shared by the manual and timer-expiry paths. questionID,
// when set, guards against a stale timer closing a newer question. The
// second close of an already-closed question is a silent no-op: exactly one
// question_ended broadcast per question.
func (svc *Service) endQuestion(ctx context.Context, sess *Session, questionID string) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	noop, err := sess.canEndQuestionLocked(questionID)
	if err != nil {
		return err
	}
	if noop {
		return nil
	}

	next := sess.persisted()
	if err := svc.store.UpdateSessionState(ctx, next); err != nil {
		return fmt.Errorf("persist question end: %w", err)
	}
	if err := svc.appendEvent(ctx, sess.id, domain.EventQuestionEnded, sess.current.ID); err != nil {
		return err
	}

	q := sess.endQuestionLocked()
	if sess.timer != nil {
		sess.timer.stop()
		sess.timer = nil
	}

	sess.room.broadcast(domain.Event{Type: domain.EvtQuestionEnded, Payload: domain.QuestionEndedPayload{
		QuestionID: q.ID,
		FunFact:    q.FunFact,
	}})
	return nil
}

// ShowReview broadcasts the submitted answers for a closed question so the
// presenter can reveal and, for open-text, hand-score them.
func (svc *Service) ShowReview(ctx context.Context, code string, c *Client, questionID string) error {
	sess, err := svc.presenterSession(code, c)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.canShowReviewLocked(questionID); err != nil {
		return err
	}
	sess.room.broadcast(domain.Event{Type: domain.EvtReviewAnswers, Payload: domain.ReviewAnswersPayload{
		QuestionID: questionID,
		Answers:    sess.answersForLocked(questionID),
	}})
	return nil
}

// ScoreAnswer applies the presenter's manual verdict to an open-text or
// media answer. Re-scoring adjusts by the delta, never double-counting.
func (svc *Service) ScoreAnswer(ctx context.Context, code string, c *Client, questionID, teamID string, points int, correct bool) error {
	sess, err := svc.presenterSession(code, c)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.canScoreAnswerLocked(questionID, teamID); err != nil {
		return err
	}

	prev := sess.answers[questionID][teamID]
	updated := *prev
	updated.Awarded = 0
	updated.Verdict = domain.VerdictIncorrect
	if correct {
		updated.Verdict = domain.VerdictCorrect
		updated.Awarded = points
	}
	if err := svc.store.UpdateAnswerScore(ctx, sess.id, updated); err != nil {
		return fmt.Errorf("persist answer score: %w", err)
	}
	if delta := updated.Awarded - prev.Awarded; delta != 0 {
		if err := svc.store.IncrementTeamPoints(ctx, sess.id, teamID, delta); err != nil {
			return fmt.Errorf("persist team points: %w", err)
		}
	}

	sess.scoreAnswerLocked(questionID, teamID, points, correct)

	sess.room.broadcast(domain.Event{Type: domain.EvtLeaderboardUpdated, Payload: domain.LeaderboardUpdatedPayload{
		Teams: sess.leaderboardLocked(),
	}})
	return nil
}

// ShowLeaderboard moves the session to the leaderboard phase and broadcasts
// the ranked snapshot.
func (svc *Service) ShowLeaderboard(ctx context.Context, code string, c *Client) error {
	sess, err := svc.presenterSession(code, c)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.canShowLeaderboardLocked(); err != nil {
		return err
	}

	next := sess.persisted()
	next.CurrentQuestionID = ""
	if err := svc.store.UpdateSessionState(ctx, next); err != nil {
		return fmt.Errorf("persist leaderboard transition: %w", err)
	}

	sess.showLeaderboardLocked()
	sess.room.broadcast(domain.Event{Type: domain.EvtLeaderboardUpdated, Payload: domain.LeaderboardUpdatedPayload{
		Teams: sess.leaderboardLocked(),
	}})
	return nil
}

// NextRound advances the round counter and clears the question phase.
func (svc *Service) NextRound(ctx context.Context, code string, c *Client) error {
	sess, err := svc.presenterSession(code, c)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.canNextRoundLocked(); err != nil {
		return err
	}

	next := sess.persisted()
	next.Round++
	next.CurrentQuestionID = ""
	if err := svc.store.UpdateSessionState(ctx, next); err != nil {
		return fmt.Errorf("persist round start: %w", err)
	}
	if err := svc.appendEvent(ctx, sess.id, domain.EventRoundStarted, fmt.Sprintf("round %d", next.Round)); err != nil {
		return err
	}

	round := sess.nextRoundLocked()
	sess.room.broadcast(domain.Event{Type: domain.EvtRoundStarted, Payload: domain.RoundStartedPayload{RoundNumber: round}})
	return nil
}

// EndSession is terminal: it persists the finished state, broadcasts the
// final leaderboard, and tears the room down. A persistence failure is the
// one case that broadcasts an error, so clients know the session did not
// close cleanly.
func (svc *Service) EndSession(ctx context.Context, code string, c *Client) error {
	sess, err := svc.presenterSession(code, c)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	if sess.status == domain.SessionFinished {
		sess.mu.Unlock()
		return nil
	}

	next := sess.persisted()
	next.Status = domain.SessionFinished
	next.CurrentQuestionID = ""
	if err := svc.store.UpdateSessionState(ctx, next); err != nil {
		sess.room.broadcast(domain.Event{Type: domain.EvtSessionEndedError, Payload: domain.ErrorPayload{
			Message: "failed to end session",
		}})
		sess.mu.Unlock()
		return fmt.Errorf("persist session end: %w", err)
	}
	if err := svc.appendEvent(ctx, sess.id, domain.EventSessionEnded, sess.code); err != nil {
		sess.mu.Unlock()
		return err
	}

	if sess.timer != nil {
		sess.timer.stop()
		sess.timer = nil
	}
	sess.endSessionLocked()
	final := sess.leaderboardLocked()
	sess.room.broadcast(domain.Event{Type: domain.EvtSessionEnded, Payload: domain.SessionEndedPayload{Teams: final}})
	sess.mu.Unlock()

	sess.room.closeAll()
	svc.sessions.Delete(code)
	return nil
}

func (svc *Service) presenterSession(code string, c *Client) (*Session, error) {
	sess, ok := svc.sessions.Get(code)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if c != nil && c.role != RolePresenter {
		return nil, domain.ErrUnauthorizedAction
	}
	return sess, nil
}

func (svc *Service) appendEvent(ctx context.Context, sessionID, eventType, detail string) error {
	ev := domain.SessionEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      eventType,
		Detail:    detail,
		At:        svc.now(),
	}
	if err := svc.store.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("append session event: %w", err)
	}
	return nil
}
