package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"quiznight-service/internal/domain"
)

// Store is the bun-backed implementation of app.Store: the durable
// system-of-record behind the in-memory session state.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

type sessionRow struct {
	bun.BaseModel `bun:"table:quiz_sessions"`

	ID                string    `bun:"id,pk"`
	Code              string    `bun:"code"`
	Name              string    `bun:"name"`
	Status            string    `bun:"status"`
	Round             int       `bun:"round"`
	CurrentQuestionID string    `bun:"current_question_id"`
	CreatedAt         time.Time `bun:"created_at"`
	UpdatedAt         time.Time `bun:"updated_at"`
}

type teamRow struct {
	bun.BaseModel `bun:"table:quiz_teams"`

	SessionID string    `bun:"session_id,pk"`
	ID        string    `bun:"id,pk"`
	Name      string    `bun:"name"`
	Points    int       `bun:"points"`
	JoinedAt  time.Time `bun:"joined_at"`
	LastSeen  time.Time `bun:"last_seen"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:quiz_answers"`

	SessionID   string    `bun:"session_id,pk"`
	QuestionID  string    `bun:"question_id,pk"`
	TeamID      string    `bun:"team_id,pk"`
	TeamName    string    `bun:"team_name"`
	Submitted   string    `bun:"submitted,type:jsonb"`
	Verdict     string    `bun:"verdict"`
	Awarded     int       `bun:"awarded"`
	SubmittedAt time.Time `bun:"submitted_at"`
}

type eventRow struct {
	bun.BaseModel `bun:"table:quiz_session_events"`

	ID        string    `bun:"id,pk"`
	SessionID string    `bun:"session_id"`
	Type      string    `bun:"type"`
	Detail    string    `bun:"detail"`
	At        time.Time `bun:"at"`
}

func (s *Store) CreateSession(ctx context.Context, sess domain.Session) error {
	row := sessionToRow(sess)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).Where("code = ?", code).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("select session: %w", err)
	}
	return rowToSession(row), nil
}

func (s *Store) UpdateSessionState(ctx context.Context, sess domain.Session) error {
	row := sessionToRow(sess)
	res, err := s.db.NewUpdate().
		Model(&row).
		Column("status", "round", "current_question_id", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) ListTeams(ctx context.Context, sessionID string) ([]domain.Team, error) {
	var rows []teamRow
	if err := s.db.NewSelect().Model(&rows).Where("session_id = ?", sessionID).Order("joined_at ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("select teams: %w", err)
	}
	teams := make([]domain.Team, 0, len(rows))
	for _, r := range rows {
		teams = append(teams, domain.Team{
			ID:       r.ID,
			Name:     r.Name,
			Points:   r.Points,
			JoinedAt: r.JoinedAt,
			LastSeen: r.LastSeen,
		})
	}
	return teams, nil
}

func (s *Store) UpsertTeam(ctx context.Context, sessionID string, team domain.Team) error {
	row := teamRow{
		SessionID: sessionID,
		ID:        team.ID,
		Name:      team.Name,
		Points:    team.Points,
		JoinedAt:  team.JoinedAt,
		LastSeen:  team.LastSeen,
	}
	_, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (session_id, id) DO UPDATE").
		Set("last_seen = EXCLUDED.last_seen").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert team: %w", err)
	}
	return nil
}

func (s *Store) IncrementTeamPoints(ctx context.Context, sessionID, teamID string, delta int) error {
	res, err := s.db.NewUpdate().
		Model((*teamRow)(nil)).
		Set("points = points + ?", delta).
		Where("session_id = ?", sessionID).
		Where("id = ?", teamID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("increment team points: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrTeamNotFound
	}
	return nil
}

func (s *Store) CreateAnswer(ctx context.Context, sessionID string, ans domain.Answer) error {
	row, err := answerToRow(sessionID, ans)
	if err != nil {
		return err
	}
	// The ledger enforces at-most-once in memory; the composite primary key
	// backstops it durably.
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	return nil
}

func (s *Store) UpdateAnswerScore(ctx context.Context, sessionID string, ans domain.Answer) error {
	row, err := answerToRow(sessionID, ans)
	if err != nil {
		return err
	}
	res, err := s.db.NewUpdate().
		Model(&row).
		Column("verdict", "awarded").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update answer score: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrAnswerNotFound
	}
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, ev domain.SessionEvent) error {
	row := eventRow{
		ID:        ev.ID,
		SessionID: ev.SessionID,
		Type:      ev.Type,
		Detail:    ev.Detail,
		At:        ev.At,
	}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("append session event: %w", err)
	}
	return nil
}

func sessionToRow(sess domain.Session) sessionRow {
	return sessionRow{
		ID:                sess.ID,
		Code:              sess.Code,
		Name:              sess.Name,
		Status:            string(sess.Status),
		Round:             sess.Round,
		CurrentQuestionID: sess.CurrentQuestionID,
		CreatedAt:         sess.CreatedAt,
		UpdatedAt:         sess.UpdatedAt,
	}
}

func rowToSession(row sessionRow) domain.Session {
	return domain.Session{
		ID:                row.ID,
		Code:              row.Code,
		Name:              row.Name,
		Status:            domain.SessionStatus(row.Status),
		Round:             row.Round,
		CurrentQuestionID: row.CurrentQuestionID,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
}

func answerToRow(sessionID string, ans domain.Answer) (answerRow, error) {
	submitted, err := json.Marshal(ans.Submitted)
	if err != nil {
		return answerRow{}, fmt.Errorf("encode submission: %w", err)
	}
	return answerRow{
		SessionID:   sessionID,
		QuestionID:  ans.QuestionID,
		TeamID:      ans.TeamID,
		TeamName:    ans.TeamName,
		Submitted:   string(submitted),
		Verdict:     string(ans.Verdict),
		Awarded:     ans.Awarded,
		SubmittedAt: ans.SubmittedAt,
	}, nil
}
