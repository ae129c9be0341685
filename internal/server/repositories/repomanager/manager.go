package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/changes"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/conflicts"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/devices"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/records"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a *sql.DB or a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Devices(db dbx.DBTX) devices.Repository
	Records(db dbx.DBTX) records.Repository
	Changes(db dbx.DBTX) changes.Repository
	Conflicts(db dbx.DBTX) conflicts.Repository
}
