package dialect

import (
	"strings"
	"testing"
	"time"
)

// TestLookup covers the supported identifiers, case folding, and the unknown
// case.
func TestLookup(t *testing.T) {
	t.Parallel()

	for _, name := range Names() {
		p, err := Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		if p.Name != name {
			t.Errorf("Lookup(%q).Name = %q", name, p.Name)
		}
	}
	if _, err := Lookup(" Postgres "); err != nil {
		t.Errorf("Lookup should fold case and trim: %v", err)
	}
	if _, err := Lookup("dbase"); err == nil {
		t.Errorf("Lookup(dbase) should fail")
	}
	if len(Names()) != 9 {
		t.Errorf("Names() = %d dialects, want 9", len(Names()))
	}
}

// TestPlaceholder checks the four placeholder styles.
func TestPlaceholder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		dialect string
		n       int
		want    string
	}{
		{"postgres", 1, "$1"},
		{"redshift", 3, "$3"},
		{"oracle", 2, ":2"},
		{"sqlserver", 4, "@p4"},
		{"mysql", 9, "?"},
		{"snowflake", 1, "?"},
		{"db2", 1, "?"},
		{"hive", 1, "?"},
		{"sybase", 1, "?"},
	}
	for _, tc := range cases {
		p := mustLookup(t, tc.dialect)
		if got := p.Placeholder(tc.n); got != tc.want {
			t.Errorf("%s.Placeholder(%d) = %q, want %q", tc.dialect, tc.n, got, tc.want)
		}
	}

	pg := mustLookup(t, "postgres")
	if got := pg.Placeholders(2, 3); got != "$2, $3, $4" {
		t.Errorf("Placeholders(2,3) = %q", got)
	}
}

// TestLimitClause generates the paging clause for limit=10, offset=5 in every
// dialect and checks the family-specific shape.
func TestLimitClause(t *testing.T) {
	t.Parallel()

	const q = "SELECT id FROM src ORDER BY id"
	cases := []struct {
		dialect string
		want    string
	}{
		{"postgres", "SELECT id FROM src ORDER BY id LIMIT 10 OFFSET 5"},
		{"mysql", "SELECT id FROM src ORDER BY id LIMIT 10 OFFSET 5"},
		{"redshift", "SELECT id FROM src ORDER BY id LIMIT 10 OFFSET 5"},
		{"snowflake", "SELECT id FROM src ORDER BY id LIMIT 10 OFFSET 5"},
		{"hive", "SELECT id FROM src ORDER BY id LIMIT 10 OFFSET 5"},
		{"sqlserver", "SELECT id FROM src ORDER BY id OFFSET 5 ROWS FETCH NEXT 10 ROWS ONLY"},
		{"db2", "SELECT id FROM src ORDER BY id OFFSET 5 ROWS FETCH NEXT 10 ROWS ONLY"},
		{"oracle", "SELECT * FROM (SELECT q.*, ROWNUM rn__ FROM (SELECT id FROM src ORDER BY id) q WHERE ROWNUM <= 15) WHERE rn__ > 5"},
		{"sybase", "SELECT TOP 15 * FROM (SELECT id FROM src ORDER BY id) q"},
	}
	for _, tc := range cases {
		p := mustLookup(t, tc.dialect)
		if got := p.LimitClause(q, 10, 5); got != tc.want {
			t.Errorf("%s.LimitClause:\n got  %q\n want %q", tc.dialect, got, tc.want)
		}
	}

	if !mustLookup(t, "sybase").ClientSideOffset() {
		t.Errorf("sybase should require a client-side offset")
	}
	if mustLookup(t, "oracle").ClientSideOffset() {
		t.Errorf("oracle expresses the offset in SQL")
	}
}

// TestQualifiedTable checks schema qualification, including the families
// where schema and database are the same namespace.
func TestQualifiedTable(t *testing.T) {
	t.Parallel()

	pg := mustLookup(t, "postgres")
	if got := pg.QualifiedTable("dw", "dim"); got != `"dw"."dim"` {
		t.Errorf("postgres qualified = %q", got)
	}
	if got := pg.QualifiedTable("", "dim"); got != `"dim"` {
		t.Errorf("postgres unqualified = %q", got)
	}

	// MySQL: schema == database, the prefix must be dropped even when set.
	my := mustLookup(t, "mysql")
	if got := my.QualifiedTable("dw", "dim"); got != "`dim`" {
		t.Errorf("mysql qualified = %q, want schema prefix dropped", got)
	}

	ss := mustLookup(t, "sqlserver")
	if got := ss.QualifiedTable("dbo", "dim"); got != "[dbo].[dim]" {
		t.Errorf("sqlserver qualified = %q", got)
	}
}

// TestQuoteIdent checks quoting and close-quote escaping.
func TestQuoteIdent(t *testing.T) {
	t.Parallel()

	ss := mustLookup(t, "sqlserver")
	if got := ss.QuoteIdent("we]ird"); got != "[we]]ird]" {
		t.Errorf("QuoteIdent = %q", got)
	}
}

// TestCountWrap checks the estimation wrapper keeps an Oracle-safe alias.
func TestCountWrap(t *testing.T) {
	t.Parallel()

	p := mustLookup(t, "oracle")
	got := p.CountWrap("SELECT * FROM t")
	if got != "SELECT COUNT(*) FROM (SELECT * FROM t) cnt__" {
		t.Errorf("CountWrap = %q", got)
	}
	if strings.Contains(got, " AS ") {
		t.Errorf("CountWrap must not use the AS keyword: %q", got)
	}
}

// TestSequenceNextval checks sequence rendering and identity-only families.
func TestSequenceNextval(t *testing.T) {
	t.Parallel()

	ora := mustLookup(t, "oracle")
	if got, ok := ora.SequenceNextval("seq_id"); !ok || got != "seq_id.NEXTVAL" {
		t.Errorf("oracle nextval = %q, %v", got, ok)
	}
	ss := mustLookup(t, "sqlserver")
	if got, ok := ss.SequenceNextval("seq_id"); !ok || got != "NEXT VALUE FOR seq_id" {
		t.Errorf("sqlserver nextval = %q, %v", got, ok)
	}
	my := mustLookup(t, "mysql")
	if _, ok := my.SequenceNextval("seq_id"); ok {
		t.Errorf("mysql has no sequences")
	}
}

// TestLiteral checks the predicate-literal rendering, including the three
// timestamp forms.
func TestLiteral(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC)

	pg := mustLookup(t, "postgres")
	if got := pg.Literal("O'Brien"); got != "'O''Brien'" {
		t.Errorf("string literal = %q", got)
	}
	if got := pg.Literal(int64(42)); got != "42" {
		t.Errorf("int literal = %q", got)
	}
	if got := pg.Literal(nil); got != "NULL" {
		t.Errorf("nil literal = %q", got)
	}
	if got := pg.Literal(true); got != "1" {
		t.Errorf("bool literal = %q", got)
	}
	if got := pg.Literal(ts); got != "TIMESTAMP '2024-05-06 07:08:09.123456'" {
		t.Errorf("postgres ts literal = %q", got)
	}

	my := mustLookup(t, "mysql")
	if got := my.Literal(ts); got != "'2024-05-06 07:08:09.123456'" {
		t.Errorf("mysql ts literal = %q", got)
	}

	ora := mustLookup(t, "oracle")
	want := "TO_TIMESTAMP('2024-05-06 07:08:09.123456', 'YYYY-MM-DD HH24:MI:SS.FF6')"
	if got := ora.Literal(ts); got != want {
		t.Errorf("oracle ts literal = %q", got)
	}
}

func mustLookup(t *testing.T, name string) *Profile {
	t.Helper()
	p, err := Lookup(name)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", name, err)
	}
	return p
}
