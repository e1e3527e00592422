package sqlfrag

import (
	"reflect"
	"testing"
)

func TestBuildPlainBind(t *testing.T) {
	sql, binds := Build([]string{"SELECT * FROM t WHERE id = ", ""}, 42)
	if sql != "SELECT * FROM t WHERE id = ?" {
		t.Fatalf("unexpected sql: %q", sql)
	}
	if !reflect.DeepEqual(binds, []any{42}) {
		t.Fatalf("unexpected binds: %v", binds)
	}
}

func TestBuildIDTag(t *testing.T) {
	sql, binds := Build([]string{"SELECT * FROM ", "ID WHERE 1=1"}, "users")
	if sql != `SELECT * FROM "users" WHERE 1=1` {
		t.Fatalf("unexpected sql: %q", sql)
	}
	if len(binds) != 0 {
		t.Fatalf("ID tag must not add a bind, got %v", binds)
	}
}

func TestBuildLitTag(t *testing.T) {
	sql, binds := Build([]string{"SELECT 1 LIMIT ", "LIT"}, 10)
	if sql != "SELECT 1 LIMIT 10" {
		t.Fatalf("unexpected sql: %q", sql)
	}
	if len(binds) != 0 {
		t.Fatalf("LIT tag must not add a bind, got %v", binds)
	}
}

func TestBuildJSONTag(t *testing.T) {
	sql, binds := Build([]string{"INSERT INTO t (doc) VALUES (", "JSON)"}, map[string]int{"a": 1})
	if sql != "INSERT INTO t (doc) VALUES (?)" {
		t.Fatalf("unexpected sql: %q", sql)
	}
	if len(binds) != 1 || binds[0] != `{"a":1}` {
		t.Fatalf("unexpected binds: %v", binds)
	}
}

// TestBuildTrailingSDisablesTag covers the spec's concrete scenario: a
// leading uppercase run immediately followed by a lowercase 's' is never a
// tag, even though "IDs"/"JSONs" begin with a recognized tag name.
func TestBuildTrailingSDisablesTag(t *testing.T) {
	tests := []struct {
		name      string
		nextChunk string
		wantSQL   string
	}{
		{"plural ID", "IDs remaining", "SELECT ?IDs remaining"},
		{"plural JSON", "JSONs here", "SELECT ?JSONs here"},
		{"plural LIT", "LITs here", "SELECT ?LITs here"},
		{"real ID tag", "ID here", `SELECT "x" here`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, _ := Build([]string{"SELECT ", tt.nextChunk}, "x")
			if sql != tt.wantSQL {
				t.Fatalf("chunk %q: got %q, want %q", tt.nextChunk, sql, tt.wantSQL)
			}
		})
	}
}

func TestSplitTagUnknownUppercaseRun(t *testing.T) {
	tag, rest := splitTag("FOO bar")
	if tag != TagBind {
		t.Fatalf("unknown uppercase run must fall back to TagBind, got %v", tag)
	}
	if rest != "FOO bar" {
		t.Fatalf("chunk must be returned untouched, got %q", rest)
	}
}

func TestValToSQL(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{true, "1"},
		{false, "0"},
		{"it's", "'it''s'"},
		{42, "42"},
	}
	for _, c := range cases {
		if got := ValToSQL(c.in); got != c.want {
			t.Fatalf("ValToSQL(%#v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestQuoteID(t *testing.T) {
	if got := QuoteID(`weird"name`); got != `"weird""name"` {
		t.Fatalf("unexpected quoting: %q", got)
	}
}

func TestBuilderFluent(t *testing.T) {
	sql, binds := New().
		Raw("UPDATE ").ID("events").
		Raw(" SET doc = json_patch(doc, ").JSON(map[string]int{"v": 1}).
		Raw(") WHERE id = ").Bind("abc").
		Build()

	wantSQL := `UPDATE "events" SET doc = json_patch(doc, ?) WHERE id = ?`
	if sql != wantSQL {
		t.Fatalf("unexpected sql: %q", sql)
	}
	if !reflect.DeepEqual(binds, []any{`{"v":1}`, "abc"}) {
		t.Fatalf("unexpected binds: %v", binds)
	}
}

func TestBuildMixedTagsInOneFragment(t *testing.T) {
	sql, binds := Build([]string{"ids ", "ID, ", "IDs ", "ID"}, 1, 2, `a"meep"whee`)
	wantSQL := `ids "1", ?IDs "a""meep""whee"`
	if sql != wantSQL {
		t.Fatalf("got %q, want %q", sql, wantSQL)
	}
	if !reflect.DeepEqual(binds, []any{2}) {
		t.Fatalf("unexpected binds: %v", binds)
	}
}

func TestBuildLitTagMixedWithPlural(t *testing.T) {
	sql, binds := Build([]string{"", "LIT, ", "LITs ", "LIT"}, 1, 2, `a"meep"whee`)
	wantSQL := `1, ?LITs a"meep"whee`
	if sql != wantSQL {
		t.Fatalf("got %q, want %q", sql, wantSQL)
	}
	if !reflect.DeepEqual(binds, []any{2}) {
		t.Fatalf("unexpected binds: %v", binds)
	}
}

func TestBuildJSONTagMixedWithPlural(t *testing.T) {
	sql, binds := Build([]string{" ", "JSON, ", "JSONs, ", "JSON"}, "meep", "moop", 7)
	wantSQL := ` ?, ?JSONs, ?`
	if sql != wantSQL {
		t.Fatalf("got %q, want %q", sql, wantSQL)
	}
	if !reflect.DeepEqual(binds, []any{`"meep"`, "moop", "7"}) {
		t.Fatalf("unexpected binds: %v", binds)
	}
}

func TestBuildPanicsOnMismatchedLengths(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for mismatched chunk/value counts")
		}
	}()
	Build([]string{"only one chunk"}, 1, 2)
}
