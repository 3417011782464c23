package config

import (
	"strings"
	"testing"
)

// hasIssue reports whether issues contains an Issue with the given severity,
// path, and a Message containing msgSubstr.
func hasIssue(t *testing.T, issues []Issue, sev IssueSeverity, path, msgSubstr string) bool {
	t.Helper()
	for _, iss := range issues {
		if iss.Severity == sev && iss.Path == path && strings.Contains(iss.Message, msgSubstr) {
			return true
		}
	}
	return false
}

func validPipeline() Pipeline {
	return Pipeline{
		Job:   "people",
		Parts: "abc",
		Stages: []Stage{
			{Name: "a_people", Kind: "csvsource", Options: Options{"path": "p.csv", "fields": "id name"}},
			{Name: "b_count", Kind: "count", Options: Options{}},
			{Name: "c_out", Kind: "csvsink", Options: Options{"path": "o.csv", "fields": "id name"}},
		},
	}
}

/*
TestValidatePipeline_ValidMinimal verifies that a well-formed pipeline produces
no issues (errors or warnings).
*/
func TestValidatePipeline_ValidMinimal(t *testing.T) {
	t.Parallel()

	if issues := ValidatePipeline(validPipeline()); len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestValidatePipeline_Findings(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(p *Pipeline)
		sev    IssueSeverity
		path   string
		msg    string
	}{
		{
			name:   "missing_job",
			mutate: func(p *Pipeline) { p.Job = " " },
			sev:    SeverityError, path: "job", msg: "job must not be empty",
		},
		{
			name:   "bad_parts",
			mutate: func(p *Pipeline) { p.Parts = "a1" },
			sev:    SeverityError, path: "parts", msg: "letters only",
		},
		{
			name:   "no_stages",
			mutate: func(p *Pipeline) { p.Stages = nil },
			sev:    SeverityError, path: "stages", msg: "no stages",
		},
		{
			name:   "duplicate_name",
			mutate: func(p *Pipeline) { p.Stages[2].Name = "a_people" },
			sev:    SeverityError, path: "stages[2].name", msg: "duplicate stage name",
		},
		{
			name:   "unknown_kind",
			mutate: func(p *Pipeline) { p.Stages[1].Kind = "teleport" },
			sev:    SeverityWarning, path: "stages[1].kind", msg: "unknown stage kind",
		},
		{
			name:   "source_without_path",
			mutate: func(p *Pipeline) { delete(p.Stages[0].Options, "path") },
			sev:    SeverityError, path: "stages[0].options.path", msg: "non-empty path",
		},
		{
			name:   "sink_without_fields",
			mutate: func(p *Pipeline) { p.Stages[2].Options["fields"] = "" },
			sev:    SeverityError, path: "stages[2].options.fields", msg: "declared field names",
		},
		{
			name: "load_without_storage",
			mutate: func(p *Pipeline) {
				p.Stages = append(p.Stages, Stage{Name: "d_load", Kind: "load"})
			},
			sev: SeverityError, path: "stages[3].kind", msg: "storage.kind",
		},
		{
			name: "storage_missing_dsn",
			mutate: func(p *Pipeline) {
				p.Storage = Storage{Kind: "sqlite", DB: DBConfig{Table: "t", Columns: []string{"id"}}}
			},
			sev: SeverityError, path: "storage.db.dsn", msg: "must not be empty",
		},
		{
			name: "orgs_without_id_field",
			mutate: func(p *Pipeline) {
				p.Lookups.Organizations = &OrgLookup{Path: "orgs.csv"}
			},
			sev: SeverityError, path: "lookups.organizations.id_field", msg: "id_field",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := validPipeline()
			tc.mutate(&p)
			issues := ValidatePipeline(p)
			if !hasIssue(t, issues, tc.sev, tc.path, tc.msg) {
				t.Fatalf("expected %s at %s containing %q; got %+v", tc.sev, tc.path, tc.msg, issues)
			}
		})
	}
}

func TestValidatePipeline_DefaultsCountTowardStageOptions(t *testing.T) {
	t.Parallel()

	p := validPipeline()
	p.Defaults = Options{"fields": "id"}
	p.Stages[2].Options = Options{"path": "o.csv"}

	if issues := ValidatePipeline(p); len(issues) != 0 {
		t.Fatalf("defaults should satisfy fields requirement; got %+v", issues)
	}
}

func TestIssue_Error(t *testing.T) {
	t.Parallel()

	iss := Issue{Severity: SeverityError, Path: "job", Message: "empty"}
	if got := iss.Error(); got != "error at job: empty" {
		t.Fatalf("Error() = %q", got)
	}
}
