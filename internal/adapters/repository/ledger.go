package repository

import (
	"context"
	"fmt"
)

// Drivers accepted by Open.
const (
	DriverMemory   = backendMemory
	DriverSQLite   = backendSQLite
	DriverPostgres = backendPostgres
	DriverValkey   = backendValkey
)

// Config selects and addresses a ledger backend.
type Config struct {
	Driver string
	// DSN is the SQLite path or the Postgres connection string.
	DSN        string
	ValkeyAddr string
}

// Open creates the ledger cfg names.
func Open(ctx context.Context, cfg Config) (Ledger, error) {
	switch cfg.Driver {
	case DriverMemory:
		return NewMemoryLedger(ctx), nil
	case DriverSQLite, "":
		return NewSQLiteLedger(ctx, cfg.DSN)
	case DriverPostgres:
		return NewPostgresLedger(ctx, cfg.DSN)
	case DriverValkey:
		return NewValkeyLedger(ctx, cfg.ValkeyAddr)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}
