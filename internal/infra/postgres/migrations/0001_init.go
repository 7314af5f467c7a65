package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_init.sql
var initSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, initSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `
				DROP TABLE IF EXISTS quiz_session_events;
				DROP TABLE IF EXISTS quiz_answers;
				DROP TABLE IF EXISTS session_questions;
				DROP TABLE IF EXISTS quiz_teams;
				DROP TABLE IF EXISTS quiz_sessions;
			`)
			return err
		},
	)
}
