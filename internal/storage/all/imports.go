// Package all wires every built-in storage backend into the storage factory.
//
// Importing it (even as a blank import) runs the init functions of the
// postgres, mssql and sqlite packages, which register their factories and
// DDL builders:
//
//	import _ "recmig/internal/storage/all"
//
//	repo, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: "target.db", ...})
package all

import (
	_ "recmig/internal/storage/mssql"
	_ "recmig/internal/storage/postgres"
	_ "recmig/internal/storage/sqlite"
)
