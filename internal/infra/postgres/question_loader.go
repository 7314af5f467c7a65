package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"quiznight-service/internal/domain"
)

// QuestionLoader loads round question JSONB from Postgres. The admin/CRUD
// layer writes these rows; the core only ever reads them.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadRound(ctx context.Context, sessionCode string, round int) ([]domain.Question, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT data FROM session_questions WHERE session_code=$1 AND round=$2 ORDER BY ordinal`,
		sessionCode, round)
	if err != nil {
		return nil, fmt.Errorf("load round: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		var q domain.Question
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, fmt.Errorf("unmarshal question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load round: %w", err)
	}
	return questions, nil
}
