package domain

// Event is the outbound envelope delivered to connected clients. Type names
// match the wire protocol; payloads are the structs below.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Outbound event types.
const (
	EvtTeamJoined         = "team_joined"
	EvtExistingTeams      = "existing_teams"
	EvtQuestionStarted    = "question_started"
	EvtAnswerReceived     = "answer_received"
	EvtAnswerAck          = "answer_ack"
	EvtQuestionEnded      = "question_ended"
	EvtLeaderboardUpdated = "leaderboard_updated"
	EvtReviewAnswers      = "review_answers"
	EvtRoundStarted       = "round_started"
	EvtTimerTick          = "timer_tick"
	EvtSessionEnded       = "session_ended"
	EvtSessionEndedError  = "session_ended_error"
	EvtError              = "error"
)

// TeamJoinedPayload announces a new (or recovered) team to the room.
type TeamJoinedPayload struct {
	TeamID      string `json:"teamId"`
	Name        string `json:"name"`
	TotalPoints int    `json:"total_points"`
	Rejoined    bool   `json:"rejoined,omitempty"`
}

// ExistingTeamsPayload replays the full roster to an attaching socket.
type ExistingTeamsPayload struct {
	Teams []LeaderboardEntry `json:"teams"`
}

// QuestionStartedPayload carries the answer-key-stripped question. Remaining
// lets a late joiner start its countdown from the server's elapsed-adjusted
// value rather than the full limit.
type QuestionStartedPayload struct {
	Question  Question `json:"question"`
	TimeLimit int      `json:"timeLimit"`
	Remaining int      `json:"remaining"`
}

// AnswerReceivedPayload is the content-free submission signal for the
// presenter's "N of M answered" counter.
type AnswerReceivedPayload struct {
	TeamID      string `json:"teamId"`
	TeamName    string `json:"teamName"`
	QuestionID  string `json:"questionId"`
	Submissions int    `json:"submissions"`
}

// AnswerAckPayload is the private acknowledgement to the submitting team.
type AnswerAckPayload struct {
	QuestionID  string  `json:"questionId"`
	Verdict     Verdict `json:"verdict"`
	Awarded     int     `json:"awarded"`
	TotalPoints int     `json:"totalPoints"`
}

// QuestionEndedPayload closes the active question for all clients.
type QuestionEndedPayload struct {
	QuestionID string `json:"questionId"`
	FunFact    string `json:"funFact,omitempty"`
}

// ReviewAnswersPayload reveals submitted answers during the review phase.
type ReviewAnswersPayload struct {
	QuestionID string   `json:"questionId"`
	Answers    []Answer `json:"answers"`
}

// RoundStartedPayload announces the next round.
type RoundStartedPayload struct {
	RoundNumber int `json:"roundNumber"`
}

// TimerTickPayload is the authoritative countdown broadcast.
type TimerTickPayload struct {
	QuestionID string `json:"questionId"`
	Remaining  int    `json:"remaining"`
}

// LeaderboardUpdatedPayload is the ranked snapshot shown at question and
// round boundaries.
type LeaderboardUpdatedPayload struct {
	Teams []LeaderboardEntry `json:"teams"`
}

// SessionEndedPayload carries the final leaderboard snapshot.
type SessionEndedPayload struct {
	Teams []LeaderboardEntry `json:"teams"`
}

// ErrorPayload is a targeted failure notice; it is never broadcast.
type ErrorPayload struct {
	Message string `json:"message"`
}
