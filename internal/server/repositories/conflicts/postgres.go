package conflicts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/server/models"
)

const conflictColumns = `id, change_id, table_name, record_id, device_id, client_data, server_data, created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.Conflict) error {
	query := `
		INSERT INTO conflicts (user_id, change_id, table_name, record_id, device_id, client_data, server_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, c.UserID, c.ChangeID, c.Table, c.RecordID, c.DeviceID,
		nullableJSON(c.ClientData), nullableJSON(c.ServerData)).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConflict(s scanner, userID string) (models.Conflict, error) {
	c := models.Conflict{UserID: userID}
	var client, server []byte
	if err := s.Scan(&c.ID, &c.ChangeID, &c.Table, &c.RecordID, &c.DeviceID, &client, &server, &c.CreatedAt); err != nil {
		return c, err
	}
	c.ClientData = client
	c.ServerData = server
	return c, nil
}

func (r *PostgresRepository) PendingByChange(ctx context.Context, userID, changeID string) (*models.Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts
		WHERE user_id = $1 AND change_id = $2 AND resolved_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1`
	c, err := scanConflict(r.db.QueryRowContext(ctx, query, userID, changeID), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &c, nil
}

func (r *PostgresRepository) PendingForRecord(ctx context.Context, userID, table, recordID string) ([]models.Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts
		WHERE user_id = $1 AND table_name = $2 AND record_id = $3 AND resolved_at IS NULL
		ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, userID, table, recordID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.Conflict
	for rows.Next() {
		c, err := scanConflict(rows, userID)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) ResolveRecord(ctx context.Context, userID, table, recordID string, at time.Time) (int64, error) {
	query := `
		UPDATE conflicts SET resolved_at = $4
		WHERE user_id = $1 AND table_name = $2 AND record_id = $3 AND resolved_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, userID, table, recordID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountPending(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conflicts WHERE user_id = $1 AND resolved_at IS NULL`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
