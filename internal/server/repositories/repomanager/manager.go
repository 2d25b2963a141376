package repomanager

import (
	"context"
	"database/sql"

	"github.com/slkzgm/beezie-backend/internal/dbx"
	"github.com/slkzgm/beezie-backend/internal/server/repositories/refreshtokens"
	"github.com/slkzgm/beezie-backend/internal/server/repositories/transfers"
	"github.com/slkzgm/beezie-backend/internal/server/repositories/users"
	"github.com/slkzgm/beezie-backend/internal/server/repositories/wallets"
)

// RepositoryManager vends repositories bound to a DBTX, so one service call
// can use the same transaction across several of them.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Wallets(db dbx.DBTX) wallets.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Transfers(db dbx.DBTX) transfers.Repository
}
