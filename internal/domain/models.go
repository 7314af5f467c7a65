package domain

import "time"

// SessionStatus tracks the coarse lifecycle of a live quiz session.
type SessionStatus string

const (
	SessionWaiting  SessionStatus = "waiting"
	SessionActive   SessionStatus = "active"
	SessionFinished SessionStatus = "finished"
)

// QuestionType is the closed set of supported question kinds.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionOpenText       QuestionType = "open_text"
	QuestionSequence       QuestionType = "sequence"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionNumerical      QuestionType = "numerical"
	QuestionImage          QuestionType = "image"
	QuestionAudio          QuestionType = "audio"
	QuestionVideo          QuestionType = "video"
)

// Session is one live quiz instance, identified by a short typeable code.
type Session struct {
	ID                string        `json:"id"`
	Code              string        `json:"code"`
	Name              string        `json:"name"`
	Status            SessionStatus `json:"status"`
	Round             int           `json:"round"`
	CurrentQuestionID string        `json:"currentQuestionId,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// Team is a participant group bound to one session for its lifetime.
// Teams survive disconnects; only their delivery target goes away.
type Team struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Points   int       `json:"totalPoints"`
	JoinedAt time.Time `json:"joinedAt"`
	LastSeen time.Time `json:"lastSeen"`
}

// Option is a selectable choice for a multiple-choice question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question belongs to one session and round. Only the payload fields
// matching Type are populated.
type Question struct {
	ID        string       `json:"id"`
	Round     int          `json:"round"`
	Ordinal   int          `json:"ordinal"`
	Type      QuestionType `json:"type"`
	Prompt    string       `json:"prompt"`
	FunFact   string       `json:"funFact,omitempty"`
	TimeLimit int          `json:"timeLimit,omitempty"` // seconds, 0 means session default
	Points    int          `json:"points"`              // defaults to 1 if zero

	Options       []Option `json:"options,omitempty"`       // multiple_choice
	CorrectOption string   `json:"correctOption,omitempty"` // multiple_choice
	Items         []string `json:"items,omitempty"`         // sequence, canonical order
	Target        float64  `json:"target,omitempty"`        // numerical
	Tolerance     float64  `json:"tolerance,omitempty"`     // numerical
	MediaURL      string   `json:"mediaUrl,omitempty"`      // image/audio/video
	CorrectBool   bool     `json:"correctBool,omitempty"`   // true_false
	CorrectText   string   `json:"correctText,omitempty"`   // open_text
}

// Public strips the answer key so the question can be broadcast to
// participants. Items stay in canonical order; shuffling for display is a
// client concern.
func (q Question) Public() Question {
	q.CorrectOption = ""
	q.Target = 0
	q.Tolerance = 0
	q.CorrectBool = false
	q.CorrectText = ""
	return q
}

// Verdict is the tri-state scoring outcome of an answer.
type Verdict string

const (
	VerdictPending   Verdict = "pending"
	VerdictCorrect   Verdict = "correct"
	VerdictIncorrect Verdict = "incorrect"
)

// Submission is the raw value a team sends for a question. Exactly one of
// Value or Sequence is meaningful, depending on the question type.
type Submission struct {
	Value    string   `json:"value,omitempty"`
	Sequence []string `json:"sequence,omitempty"`
}

// Answer is one team's submission for one question. At most one exists per
// (team, question) pair; the first write wins.
type Answer struct {
	TeamID      string     `json:"teamId"`
	TeamName    string     `json:"teamName"`
	QuestionID  string     `json:"questionId"`
	Submitted   Submission `json:"submitted"`
	Verdict     Verdict    `json:"verdict"`
	Awarded     int        `json:"awarded"`
	SubmittedAt time.Time  `json:"submittedAt"`
}

// LeaderboardEntry is a snapshot-friendly view of a team.
type LeaderboardEntry struct {
	TeamID      string `json:"teamId"`
	Name        string `json:"name"`
	TotalPoints int    `json:"total_points"`
}

// Leaderboard captures the ranked scoreboard for a session.
type Leaderboard struct {
	SessionCode string             `json:"sessionCode"`
	Teams       []LeaderboardEntry `json:"teams"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// SessionEvent is an append-only audit record of a lifecycle transition.
type SessionEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Type      string    `json:"type"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Audit event types.
const (
	EventSessionCreated  = "session_created"
	EventQuestionStarted = "question_started"
	EventQuestionEnded   = "question_ended"
	EventRoundStarted    = "round_started"
	EventSessionEnded    = "session_ended"
)
