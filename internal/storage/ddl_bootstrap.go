package storage

import (
	"context"
	"fmt"
	"sync"
)

// DDLBuilder renders a CREATE TABLE statement for table with the given
// columns. Every column is a nullable text column: records only carry
// strings, integers and nulls.
type DDLBuilder func(table string, columns []string) (string, error)

var (
	ddlMu  sync.RWMutex
	ddlFns = map[string]DDLBuilder{}
)

// RegisterDDL registers (or replaces) the DDL builder for a storage kind.
func RegisterDDL(kind string, fn DDLBuilder) {
	ddlMu.Lock()
	defer ddlMu.Unlock()
	ddlFns[kind] = fn
}

// EnsureTable creates cfg.Table through repo when it does not exist yet.
func EnsureTable(ctx context.Context, repo Repository, cfg Config) error {
	ddlMu.RLock()
	fn, ok := ddlFns[cfg.Kind]
	ddlMu.RUnlock()
	if !ok {
		return fmt.Errorf("no DDL builder registered for storage.kind=%q", cfg.Kind)
	}
	stmt, err := fn(cfg.Table, cfg.Columns)
	if err != nil {
		return fmt.Errorf("build DDL: %w", err)
	}
	if err := repo.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("apply DDL: %w", err)
	}
	return nil
}
