package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/relaychat/relay/internal/model"
)

type WorkspacesRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, ws model.Workspace) error
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
	Get(ctx context.Context, id string) (*model.Workspace, error)

	InsertInvite(ctx context.Context, tx *sqlx.Tx, inv model.Invite) error
}

type WorkspacesRepositoryImpl struct {
	db *sqlx.DB
}

func NewWorkspacesRepository(db *sqlx.DB) *WorkspacesRepositoryImpl {
	return &WorkspacesRepositoryImpl{db: db}
}

var _ WorkspacesRepository = (*WorkspacesRepositoryImpl)(nil)

func (r *WorkspacesRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, ws model.Workspace) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, owner_id, created_at)
		VALUES (?, ?, ?, NOW())
	`, ws.ID, ws.Name, ws.OwnerID)
	return err
}

func (r *WorkspacesRepositoryImpl) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
	return err
}

func (r *WorkspacesRepositoryImpl) Get(ctx context.Context, id string) (*model.Workspace, error) {
	var ws model.Workspace
	err := r.db.GetContext(ctx, &ws, `
		SELECT id, name, owner_id, created_at FROM workspaces WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

func (r *WorkspacesRepositoryImpl) InsertInvite(ctx context.Context, tx *sqlx.Tx, inv model.Invite) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO workspace_invites (id, workspace_id, inviter_id, email, created_at)
		VALUES (?, ?, ?, ?, NOW())
	`, inv.ID, inv.WorkspaceID, inv.InviterID, inv.Email)
	return err
}
