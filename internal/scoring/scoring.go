package scoring

import (
	"math"
	"strconv"
	"strings"

	"quiznight-service/internal/domain"
)

// Policy holds the configurable scoring knobs.
type Policy struct {
	// PartialSequencePoints is awarded when a sequence submission differs
	// from the canonical order by exactly one adjacent transposition. Zero
	// means half the question's points, rounded down.
	PartialSequencePoints int
}

// Result is the outcome of scoring a single submission.
type Result struct {
	Verdict domain.Verdict
	Points  int
}

// Score evaluates a submission against the question's answer key. It is
// pure: no I/O, no shared state. Open-text and media questions return a
// pending verdict to be resolved by the presenter during review.
func Score(q domain.Question, sub domain.Submission, p Policy) Result {
	full := q.Points
	if full == 0 {
		full = 1
	}

	switch q.Type {
	case domain.QuestionMultipleChoice:
		return boolResult(sub.Value == q.CorrectOption, full)
	case domain.QuestionTrueFalse:
		v, err := strconv.ParseBool(strings.TrimSpace(sub.Value))
		return boolResult(err == nil && v == q.CorrectBool, full)
	case domain.QuestionNumerical:
		v, err := strconv.ParseFloat(strings.TrimSpace(sub.Value), 64)
		return boolResult(err == nil && math.Abs(v-q.Target) <= q.Tolerance, full)
	case domain.QuestionSequence:
		return scoreSequence(q.Items, sub.Sequence, full, p)
	default:
		// open_text, image, audio, video: presenter-scored during review.
		return Result{Verdict: domain.VerdictPending}
	}
}

func boolResult(correct bool, full int) Result {
	if correct {
		return Result{Verdict: domain.VerdictCorrect, Points: full}
	}
	return Result{Verdict: domain.VerdictIncorrect}
}

// scoreSequence compares position by position against the canonical order.
// Full points only when every position matches; the partial tier applies
// when exactly one adjacent pair is transposed. Anything else scores zero;
// this is deliberately not edit distance.
func scoreSequence(canonical, submitted []string, full int, p Policy) Result {
	if len(submitted) != len(canonical) {
		return Result{Verdict: domain.VerdictIncorrect}
	}

	mismatches := make([]int, 0, len(canonical))
	for i := range canonical {
		if submitted[i] != canonical[i] {
			mismatches = append(mismatches, i)
		}
	}

	if len(mismatches) == 0 {
		return Result{Verdict: domain.VerdictCorrect, Points: full}
	}

	if len(mismatches) == 2 {
		i, j := mismatches[0], mismatches[1]
		if j == i+1 && submitted[i] == canonical[j] && submitted[j] == canonical[i] {
			partial := p.PartialSequencePoints
			if partial == 0 {
				partial = full / 2
			}
			if partial > 0 {
				return Result{Verdict: domain.VerdictCorrect, Points: partial}
			}
		}
	}

	return Result{Verdict: domain.VerdictIncorrect}
}
