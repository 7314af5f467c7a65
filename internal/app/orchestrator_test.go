package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quiznight-service/internal/app"
	"quiznight-service/internal/domain"
	"quiznight-service/internal/infra/memory"
	"quiznight-service/internal/scoring"
)

func TestEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	sess, err := svc.CreateSession(ctx, "Friday Night Trivia")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if len(sess.Code) != 6 {
		t.Fatalf("expected 6-char code, got %q", sess.Code)
	}

	presenter, err := svc.AttachPresenter(ctx, sess.Code)
	if err != nil {
		t.Fatalf("attach presenter: %v", err)
	}
	drain(presenter) // replay events

	foxes, team, err := svc.Join(ctx, sess.Code, "Foxes")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	drain(foxes)

	joined := nextEvent(t, presenter, domain.EvtTeamJoined).Payload.(domain.TeamJoinedPayload)
	if joined.Name != "Foxes" || joined.TeamID != team.ID {
		t.Fatalf("unexpected team_joined payload: %+v", joined)
	}

	if err := svc.StartQuestion(ctx, sess.Code, presenter, "q1"); err != nil {
		t.Fatalf("start question: %v", err)
	}
	started := nextEvent(t, foxes, domain.EvtQuestionStarted).Payload.(domain.QuestionStartedPayload)
	if started.Question.CorrectOption != "" || started.Question.CorrectText != "" {
		t.Fatalf("answer key leaked to participants: %+v", started.Question)
	}
	if started.TimeLimit != 30 || started.Remaining != 30 {
		t.Fatalf("expected 30s limit, got %+v", started)
	}

	if err := svc.SubmitAnswer(ctx, sess.Code, foxes, "q1", domain.Submission{Value: "o2"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	received := nextEvent(t, presenter, domain.EvtAnswerReceived).Payload.(domain.AnswerReceivedPayload)
	if received.TeamName != "Foxes" || received.Submissions != 1 {
		t.Fatalf("unexpected answer_received: %+v", received)
	}
	ack := nextEvent(t, foxes, domain.EvtAnswerAck).Payload.(domain.AnswerAckPayload)
	if ack.Verdict != domain.VerdictCorrect || ack.Awarded != 10 || ack.TotalPoints != 10 {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	if err := svc.EndQuestion(ctx, sess.Code, presenter); err != nil {
		t.Fatalf("end question: %v", err)
	}
	nextEvent(t, foxes, domain.EvtQuestionEnded)

	if err := svc.ShowLeaderboard(ctx, sess.Code, presenter); err != nil {
		t.Fatalf("show leaderboard: %v", err)
	}
	lb := nextEvent(t, foxes, domain.EvtLeaderboardUpdated).Payload.(domain.LeaderboardUpdatedPayload)
	if len(lb.Teams) != 1 || lb.Teams[0].Name != "Foxes" || lb.Teams[0].TotalPoints != 10 {
		t.Fatalf("unexpected leaderboard: %+v", lb.Teams)
	}
}

func TestDuplicateSubmissionRejected(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	sess, _, foxes := startedQuestion(t, svc, "q1")

	if err := svc.SubmitAnswer(ctx, sess.Code, foxes, "q1", domain.Submission{Value: "o1"}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	for i := 0; i < 3; i++ {
		err := svc.SubmitAnswer(ctx, sess.Code, foxes, "q1", domain.Submission{Value: "o2"})
		if !errors.Is(err, domain.ErrDuplicateSubmission) {
			t.Fatalf("attempt %d: expected duplicate error, got %v", i+2, err)
		}
	}

	if got := len(store.Answers(sess.ID)); got != 1 {
		t.Fatalf("expected exactly one stored answer, got %d", got)
	}
}

func TestSubmissionOutsideRunningQuestion(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	sess, presenter, foxes := startedQuestion(t, svc, "q1")

	// Wrong question while q1 runs.
	err := svc.SubmitAnswer(ctx, sess.Code, foxes, "q9", domain.Submission{Value: "o1"})
	if !errors.Is(err, domain.ErrQuestionNotActive) {
		t.Fatalf("expected question-not-active, got %v", err)
	}

	if err := svc.EndQuestion(ctx, sess.Code, presenter); err != nil {
		t.Fatalf("end question: %v", err)
	}
	err = svc.SubmitAnswer(ctx, sess.Code, foxes, "q1", domain.Submission{Value: "o1"})
	if !errors.Is(err, domain.ErrQuestionNotActive) {
		t.Fatalf("expected submission after close rejected, got %v", err)
	}
}

func TestStateMachineLegality(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	sess, err := svc.CreateSession(ctx, "quiz")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	presenter, err := svc.AttachPresenter(ctx, sess.Code)
	if err != nil {
		t.Fatalf("attach presenter: %v", err)
	}
	drain(presenter)

	// No question has ever run.
	if err := svc.EndQuestion(ctx, sess.Code, presenter); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("end before start: expected invalid transition, got %v", err)
	}
	if err := svc.ShowLeaderboard(ctx, sess.Code, presenter); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("leaderboard before any question: expected invalid transition, got %v", err)
	}
	if err := svc.ShowReview(ctx, sess.Code, presenter, "q1"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("review of never-started question: expected not found, got %v", err)
	}

	if err := svc.StartQuestion(ctx, sess.Code, presenter, "q1"); err != nil {
		t.Fatalf("start question: %v", err)
	}
	// Mid-question: nothing but end_question is legal.
	if err := svc.StartQuestion(ctx, sess.Code, presenter, "q2"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("start while running: expected invalid transition, got %v", err)
	}
	if err := svc.NextRound(ctx, sess.Code, presenter); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("next round while running: expected invalid transition, got %v", err)
	}
	if err := svc.ShowLeaderboard(ctx, sess.Code, presenter); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("leaderboard while running: expected invalid transition, got %v", err)
	}

	// Rejections leave the machine unchanged: the running question still ends.
	if err := svc.EndQuestion(ctx, sess.Code, presenter); err != nil {
		t.Fatalf("end question after rejections: %v", err)
	}
}

func TestEndQuestionIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	sess, presenter, foxes := startedQuestion(t, svc, "q1")

	if err := svc.EndQuestion(ctx, sess.Code, presenter); err != nil {
		t.Fatalf("first end: %v", err)
	}
	// A racing timer expiry or double-click is a silent no-op.
	if err := svc.EndQuestion(ctx, sess.Code, presenter); err != nil {
		t.Fatalf("second end should be a no-op, got %v", err)
	}

	if got := countEvents(foxes, domain.EvtQuestionEnded); got != 1 {
		t.Fatalf("expected exactly one question_ended broadcast, got %d", got)
	}
}

func TestUnauthorizedPresenterActions(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	sess, _, foxes := startedQuestion(t, svc, "q1")

	if err := svc.EndQuestion(ctx, sess.Code, foxes); !errors.Is(err, domain.ErrUnauthorizedAction) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := svc.NextRound(ctx, sess.Code, foxes); !errors.Is(err, domain.ErrUnauthorizedAction) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	// No broadcast leaked from the rejected actions.
	if got := countEvents(foxes, domain.EvtQuestionEnded); got != 0 {
		t.Fatalf("rejected action broadcast question_ended %d times", got)
	}
}

func TestLateJoinReceivesElapsedAdjustedQuestion(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 6, 6, 19, 0, 0, 0, time.UTC)}
	svc, _ := newTestService(t, app.WithClock(clock.Now))
	sess, _, _ := startedQuestion(t, svc, "q1")

	clock.Advance(10 * time.Second)

	late, _, err := svc.Join(ctx, sess.Code, "Latecomers")
	if err != nil {
		t.Fatalf("late join: %v", err)
	}
	nextEvent(t, late, domain.EvtExistingTeams)
	started := nextEvent(t, late, domain.EvtQuestionStarted).Payload.(domain.QuestionStartedPayload)
	if started.Question.ID != "q1" || started.Question.CorrectOption != "" {
		t.Fatalf("unexpected replayed question: %+v", started.Question)
	}
	if started.TimeLimit != 30 || started.Remaining != 20 {
		t.Fatalf("expected 20s remaining of 30, got %+v", started)
	}
}

func TestTimerExpiryEndsQuestion(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, app.WithTickInterval(2*time.Millisecond))

	sess, err := svc.CreateSession(ctx, "quiz")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	presenter, err := svc.AttachPresenter(ctx, sess.Code)
	if err != nil {
		t.Fatalf("attach presenter: %v", err)
	}
	drain(presenter)
	foxes, _, err := svc.Join(ctx, sess.Code, "Foxes")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	drain(foxes)

	// q3 carries a 2 second limit; with the shrunk tick it expires almost
	// immediately and must close the question with no presenter input.
	if err := svc.StartQuestion(ctx, sess.Code, presenter, "q3"); err != nil {
		t.Fatalf("start question: %v", err)
	}
	ended := nextEvent(t, foxes, domain.EvtQuestionEnded).Payload.(domain.QuestionEndedPayload)
	if ended.QuestionID != "q3" {
		t.Fatalf("unexpected question_ended: %+v", ended)
	}

	// Manual end after expiry stays a no-op with no second broadcast.
	if err := svc.EndQuestion(ctx, sess.Code, presenter); err != nil {
		t.Fatalf("manual end after expiry: %v", err)
	}
	if got := countEvents(foxes, domain.EvtQuestionEnded); got != 0 {
		t.Fatalf("expected no further question_ended, got %d", got)
	}
}

func TestTeamNameRecoveryOnRejoin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	sess, err := svc.CreateSession(ctx, "quiz")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	c1, team1, err := svc.Join(ctx, sess.Code, "Foxes")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	svc.Leave(sess.Code, c1)

	// Same name, different spacing and case: same team identity.
	c2, team2, err := svc.Join(ctx, sess.Code, "  foxes ")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if team2.ID != team1.ID {
		t.Fatalf("expected recovered team %s, got %s", team1.ID, team2.ID)
	}
	roster := nextEvent(t, c2, domain.EvtExistingTeams).Payload.(domain.ExistingTeamsPayload)
	if len(roster.Teams) != 1 {
		t.Fatalf("expected single roster entry, got %+v", roster.Teams)
	}
}

func TestOpenTextManualScoring(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	sess, presenter, foxes := startedQuestion(t, svc, "q2")

	if err := svc.SubmitAnswer(ctx, sess.Code, foxes, "q2", domain.Submission{Value: "the battle of hastings"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ack := nextEvent(t, foxes, domain.EvtAnswerAck).Payload.(domain.AnswerAckPayload)
	if ack.Verdict != domain.VerdictPending || ack.Awarded != 0 {
		t.Fatalf("expected pending ack for open text, got %+v", ack)
	}

	if err := svc.EndQuestion(ctx, sess.Code, presenter); err != nil {
		t.Fatalf("end question: %v", err)
	}
	if err := svc.ShowReview(ctx, sess.Code, presenter, "q2"); err != nil {
		t.Fatalf("show review: %v", err)
	}
	review := nextEvent(t, presenter, domain.EvtReviewAnswers).Payload.(domain.ReviewAnswersPayload)
	if len(review.Answers) != 1 || review.Answers[0].Verdict != domain.VerdictPending {
		t.Fatalf("unexpected review payload: %+v", review)
	}

	if err := svc.ScoreAnswer(ctx, sess.Code, presenter, "q2", foxes.TeamID(), 7, true); err != nil {
		t.Fatalf("score answer: %v", err)
	}
	lb := nextEvent(t, foxes, domain.EvtLeaderboardUpdated).Payload.(domain.LeaderboardUpdatedPayload)
	if lb.Teams[0].TotalPoints != 7 {
		t.Fatalf("expected 7 points after manual score, got %+v", lb.Teams)
	}

	// Re-scoring replaces, never double-counts.
	if err := svc.ScoreAnswer(ctx, sess.Code, presenter, "q2", foxes.TeamID(), 5, true); err != nil {
		t.Fatalf("re-score answer: %v", err)
	}
	lb = nextEvent(t, foxes, domain.EvtLeaderboardUpdated).Payload.(domain.LeaderboardUpdatedPayload)
	if lb.Teams[0].TotalPoints != 5 {
		t.Fatalf("expected 5 points after re-score, got %+v", lb.Teams)
	}
}

func TestEndSessionBroadcastsFinalLeaderboardAndTearsDown(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	sess, presenter, foxes := startedQuestion(t, svc, "q1")

	if err := svc.SubmitAnswer(ctx, sess.Code, foxes, "q1", domain.Submission{Value: "o2"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := svc.EndSession(ctx, sess.Code, presenter); err != nil {
		t.Fatalf("end session: %v", err)
	}

	final := nextEvent(t, foxes, domain.EvtSessionEnded).Payload.(domain.SessionEndedPayload)
	if len(final.Teams) != 1 || final.Teams[0].TotalPoints != 10 {
		t.Fatalf("unexpected final leaderboard: %+v", final.Teams)
	}

	// Channels close on teardown and the code is gone.
	waitClosed(t, foxes)
	if _, _, err := svc.Join(ctx, sess.Code, "late"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}

	events := store.Events(sess.ID)
	last := events[len(events)-1]
	if last.Type != domain.EventSessionEnded {
		t.Fatalf("expected session_ended audit event, got %+v", last)
	}
}

// --- helpers ---

func newTestService(t *testing.T, opts ...app.Option) (*app.Service, *memory.Store) {
	t.Helper()
	registry := memory.NewSessionRegistry()
	loader := memory.NewStaticQuestionLoader(map[int][]domain.Question{
		1: {
			{
				ID:      "q1",
				Round:   1,
				Ordinal: 1,
				Type:    domain.QuestionMultipleChoice,
				Prompt:  "What is the capital of France?",
				Options: []domain.Option{
					{ID: "o1", Text: "London"},
					{ID: "o2", Text: "Paris"},
					{ID: "o3", Text: "Berlin"},
					{ID: "o4", Text: "Madrid"},
				},
				CorrectOption: "o2",
				TimeLimit:     30,
				Points:        10,
			},
			{
				ID:          "q2",
				Round:       1,
				Ordinal:     2,
				Type:        domain.QuestionOpenText,
				Prompt:      "Which battle took place in 1066?",
				CorrectText: "Battle of Hastings",
				TimeLimit:   45,
				Points:      10,
			},
			{
				ID:        "q3",
				Round:     1,
				Ordinal:   3,
				Type:      domain.QuestionTrueFalse,
				Prompt:    "The Great Wall is visible from the Moon.",
				TimeLimit: 2,
				Points:    5,
			},
		},
	})
	questions := memory.NewQuestionRepository(loader, time.Minute)
	store := memory.NewStore()
	svc := app.NewService(registry, questions, store, scoring.Policy{}, 30, opts...)
	return svc, store
}

// startedQuestion creates a session with a presenter and one joined team,
// starts questionID, and drains the setup events from both clients.
func startedQuestion(t *testing.T, svc *app.Service, questionID string) (domain.Session, *app.Client, *app.Client) {
	t.Helper()
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "quiz")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	presenter, err := svc.AttachPresenter(ctx, sess.Code)
	if err != nil {
		t.Fatalf("attach presenter: %v", err)
	}
	foxes, _, err := svc.Join(ctx, sess.Code, "Foxes")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := svc.StartQuestion(ctx, sess.Code, presenter, questionID); err != nil {
		t.Fatalf("start question: %v", err)
	}
	drain(presenter)
	drain(foxes)
	return sess, presenter, foxes
}

// nextEvent reads events until one of the wanted type arrives, skipping
// timer ticks and other interleaved broadcasts.
func nextEvent(t *testing.T, c *app.Client, eventType string) domain.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatalf("events channel closed while waiting for %s", eventType)
			}
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

// countEvents drains whatever is buffered and counts matches.
func countEvents(c *app.Client, eventType string) int {
	count := 0
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return count
			}
			if ev.Type == eventType {
				count++
			}
		default:
			return count
		}
	}
}

func drain(c *app.Client) {
	for {
		select {
		case <-c.Events():
		default:
			return
		}
	}
}

func waitClosed(t *testing.T, c *app.Client) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-c.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("events channel was not closed")
		}
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
