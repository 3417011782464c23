// Package lookup loads collaborator data that expressions can consult.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"recmig/internal/config"
	"recmig/internal/datasource/file"
	csvparser "recmig/internal/parser/csv"
	"recmig/internal/record"
)

// Organizations is an organization directory read from a CSV file with a
// header row. It satisfies pipeline.OrgDirectory.
type Organizations struct {
	byID  map[string]*record.Record
	byEID map[string]string
}

// LoadOrganizations reads the directory described by cfg. path is resolved
// by the caller. Rows without an id are skipped; a repeated id keeps the
// last row.
func LoadOrganizations(ctx context.Context, path string, cfg config.OrgLookup, log *slog.Logger) (*Organizations, error) {
	f, err := file.NewLocal(path).Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	defer f.Close()

	d := csvparser.Dialect{Delimiter: ','}
	if cfg.Delimiter != "" {
		d.Delimiter = []rune(cfg.Delimiter)[0]
	}
	r, err := csvparser.NewReader(f, d)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}

	header, _, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("lookup: %s: read header: %w", path, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if !contains(header, cfg.IDField) {
		return nil, fmt.Errorf("lookup: %s: no column %q", path, cfg.IDField)
	}
	if cfg.EIDField != "" && !contains(header, cfg.EIDField) {
		return nil, fmt.Errorf("lookup: %s: no column %q", path, cfg.EIDField)
	}

	o := &Organizations{byID: map[string]*record.Record{}, byEID: map[string]string{}}
	for {
		row, line, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("lookup: %s: %w", path, err)
		}
		if len(row) != len(header) {
			log.Warn("lookup: skipping row with wrong width", "path", path, "line", line)
			continue
		}
		rec := record.New(len(header))
		rec.Key, rec.Line = "organizations", line
		for i, h := range header {
			rec.Set(h, strings.TrimSpace(row[i]))
		}
		id := rec.String(cfg.IDField)
		if id == "" {
			continue
		}
		o.byID[id] = rec
		if cfg.EIDField != "" {
			if eid := rec.String(cfg.EIDField); eid != "" {
				o.byEID[eid] = id
			}
		}
	}
	log.Info("lookup: organizations loaded", "path", path, "count", len(o.byID))
	return o, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// LookupOrganizations returns every organization by id and the external id
// index.
func (o *Organizations) LookupOrganizations() (map[string]*record.Record, map[string]string) {
	return o.byID, o.byEID
}

// Len returns the number of organizations.
func (o *Organizations) Len() int { return len(o.byID) }
