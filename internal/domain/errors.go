package domain

import "errors"

var (
	// ErrInvalidTransition is returned when an action is illegal in the
	// session's current state, e.g. starting a question mid-question.
	ErrInvalidTransition = errors.New("action not allowed in current session state")
	// ErrDuplicateSubmission is returned when a team already answered the
	// question; the first write wins.
	ErrDuplicateSubmission = errors.New("team already answered this question")
	// ErrQuestionNotActive is returned for submissions against a closed or
	// not-yet-started question.
	ErrQuestionNotActive = errors.New("question is not open for answers")
	// ErrUnauthorizedAction is returned when a participant socket attempts a
	// presenter-only action.
	ErrUnauthorizedAction = errors.New("action requires the presenter role")
	// ErrSessionNotFound indicates an unknown session code.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionFinished indicates the session has ended.
	ErrSessionFinished = errors.New("session has ended")
	// ErrTeamNotFound is returned when a team tries to act before joining.
	ErrTeamNotFound = errors.New("team not found in session")
	// ErrQuestionNotFound indicates a question ID unknown to the round.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrAnswerNotFound indicates a manual score targeted a missing answer.
	ErrAnswerNotFound = errors.New("answer not found")
)

// IsValidation reports whether err is a locally-recoverable validation
// error: one that produces a targeted response to the offending socket and
// never mutates state or broadcasts.
func IsValidation(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrDuplicateSubmission),
		errors.Is(err, ErrQuestionNotActive),
		errors.Is(err, ErrUnauthorizedAction),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSessionFinished),
		errors.Is(err, ErrTeamNotFound),
		errors.Is(err, ErrQuestionNotFound),
		errors.Is(err, ErrAnswerNotFound):
		return true
	}
	return false
}
