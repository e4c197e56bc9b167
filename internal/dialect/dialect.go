// Package dialect translates the SQL details that differ between database
// families: parameter placeholder syntax, current-timestamp/date expressions,
// row-limiting clauses, sequence/identity generation, identifier quoting, and
// schema qualification.
//
// A Profile is pure data plus pure functions: it never touches a connection,
// which keeps every generated fragment testable without a live database. The
// engine selects the profile from the explicit dialect identifier on the job
// config rather than sniffing a driver.
package dialect

import (
	"fmt"
	"strings"
	"time"
)

// Paging styles supported across the dialect families.
const (
	pagingLimitOffset = iota // LIMIT n OFFSET m
	pagingOffsetFetch        // OFFSET m ROWS FETCH NEXT n ROWS ONLY
	pagingRownum             // Oracle ROWNUM wrapper subquery
	pagingTop                // TOP n wrapper (no native offset)
)

// Placeholder styles.
const (
	phQuestion = iota // ?
	phDollar          // $1, $2, ...
	phColon           // :1, :2, ...
	phAt              // @p1, @p2, ...
)

// Profile holds the SQL generation rules for one database family.
type Profile struct {
	// Name is the dialect identifier, e.g. "postgres".
	Name string

	placeholder int
	paging      int

	nowExpr   string
	todayExpr string

	// quoteOpen/quoteClose wrap identifiers: "x", `x`, or [x].
	quoteOpen  string
	quoteClose string

	// sequenceNextval renders the next-value expression for a named
	// sequence, empty when the family relies on identity columns instead.
	sequenceNextval func(seq string) string

	// schemaIsDatabase marks families where "schema" and "database" are the
	// same namespace. Qualified names must omit the schema prefix there:
	// the active connection already selects the database, and prefixing
	// would produce a cross-database reference.
	schemaIsDatabase bool

	// timestampLiteral renders a time value as an embeddable SQL literal.
	timestampLiteral func(t time.Time) string
}

var profiles = map[string]*Profile{
	"oracle": {
		Name:        "oracle",
		placeholder: phColon,
		paging:      pagingRownum,
		nowExpr:     "SYSTIMESTAMP",
		todayExpr:   "TRUNC(SYSDATE)",
		quoteOpen:   `"`, quoteClose: `"`,
		sequenceNextval:  func(seq string) string { return seq + ".NEXTVAL" },
		timestampLiteral: oracleTimestamp,
	},
	"postgres": {
		Name:        "postgres",
		placeholder: phDollar,
		paging:      pagingLimitOffset,
		nowExpr:     "CURRENT_TIMESTAMP",
		todayExpr:   "CURRENT_DATE",
		quoteOpen:   `"`, quoteClose: `"`,
		sequenceNextval:  func(seq string) string { return fmt.Sprintf("nextval('%s')", seq) },
		timestampLiteral: ansiTimestamp,
	},
	"mysql": {
		Name:        "mysql",
		placeholder: phQuestion,
		paging:      pagingLimitOffset,
		nowExpr:     "NOW()",
		todayExpr:   "CURDATE()",
		quoteOpen:   "`", quoteClose: "`",
		schemaIsDatabase: true,
		timestampLiteral: plainTimestamp,
	},
	"sqlserver": {
		Name:        "sqlserver",
		placeholder: phAt,
		paging:      pagingOffsetFetch,
		nowExpr:     "SYSDATETIME()",
		todayExpr:   "CAST(GETDATE() AS DATE)",
		quoteOpen:   "[", quoteClose: "]",
		sequenceNextval:  func(seq string) string { return "NEXT VALUE FOR " + seq },
		timestampLiteral: plainTimestamp,
	},
	"sybase": {
		Name:        "sybase",
		placeholder: phQuestion,
		paging:      pagingTop,
		nowExpr:     "GETDATE()",
		todayExpr:   "CAST(GETDATE() AS DATE)",
		quoteOpen:   "[", quoteClose: "]",
		timestampLiteral: plainTimestamp,
	},
	"redshift": {
		Name:        "redshift",
		placeholder: phDollar,
		paging:      pagingLimitOffset,
		nowExpr:     "GETDATE()",
		todayExpr:   "CURRENT_DATE",
		quoteOpen:   `"`, quoteClose: `"`,
		timestampLiteral: ansiTimestamp,
	},
	"snowflake": {
		Name:        "snowflake",
		placeholder: phQuestion,
		paging:      pagingLimitOffset,
		nowExpr:     "CURRENT_TIMESTAMP()",
		todayExpr:   "CURRENT_DATE()",
		quoteOpen:   `"`, quoteClose: `"`,
		sequenceNextval:  func(seq string) string { return seq + ".NEXTVAL" },
		timestampLiteral: ansiTimestamp,
	},
	"db2": {
		Name:        "db2",
		placeholder: phQuestion,
		paging:      pagingOffsetFetch,
		nowExpr:     "CURRENT TIMESTAMP",
		todayExpr:   "CURRENT DATE",
		quoteOpen:   `"`, quoteClose: `"`,
		sequenceNextval:  func(seq string) string { return "NEXT VALUE FOR " + seq },
		timestampLiteral: ansiTimestamp,
	},
	"hive": {
		Name:        "hive",
		placeholder: phQuestion,
		paging:      pagingLimitOffset,
		nowExpr:     "CURRENT_TIMESTAMP",
		todayExpr:   "CURRENT_DATE",
		quoteOpen:   "`", quoteClose: "`",
		timestampLiteral: plainTimestamp,
	},
}

// Lookup returns the Profile for the given dialect identifier.
func Lookup(name string) (*Profile, error) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("dialect: unsupported dialect %q", name)
	}
	return p, nil
}

// Names lists the supported dialect identifiers.
func Names() []string {
	out := make([]string, 0, len(profiles))
	for k := range profiles {
		out = append(out, k)
	}
	return out
}

// Placeholder renders the parameter placeholder for the 1-based position n.
func (p *Profile) Placeholder(n int) string {
	switch p.placeholder {
	case phDollar:
		return fmt.Sprintf("$%d", n)
	case phColon:
		return fmt.Sprintf(":%d", n)
	case phAt:
		return fmt.Sprintf("@p%d", n)
	default:
		return "?"
	}
}

// Placeholders renders n comma-separated placeholders starting at position
// start (1-based).
func (p *Profile) Placeholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = p.Placeholder(start + i)
	}
	return strings.Join(parts, ", ")
}

// CurrentTimestamp returns the dialect's current-timestamp expression.
func (p *Profile) CurrentTimestamp() string { return p.nowExpr }

// CurrentDate returns the dialect's current-date expression.
func (p *Profile) CurrentDate() string { return p.todayExpr }

// SequenceNextval renders the next-value expression for the named sequence.
// The second return is false for families that use identity columns and have
// no sequence objects.
func (p *Profile) SequenceNextval(seq string) (string, bool) {
	if p.sequenceNextval == nil {
		return "", false
	}
	return p.sequenceNextval(seq), true
}

// QuoteIdent quotes a single identifier segment.
func (p *Profile) QuoteIdent(id string) string {
	escaped := strings.ReplaceAll(id, p.quoteClose, p.quoteClose+p.quoteClose)
	return p.quoteOpen + escaped + p.quoteClose
}

// QuoteIdents quotes each identifier in cols.
func (p *Profile) QuoteIdents(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = p.QuoteIdent(c)
	}
	return out
}

// QualifiedTable renders the schema-qualified table name. For families where
// schema and database are the same concept the schema prefix is dropped even
// when configured.
func (p *Profile) QualifiedTable(schema, table string) string {
	if schema == "" || p.schemaIsDatabase {
		return p.QuoteIdent(table)
	}
	return p.QuoteIdent(schema) + "." + p.QuoteIdent(table)
}

// LimitClause wraps or suffixes query so that it returns at most limit rows
// after skipping offset rows. The input query must not already carry a
// row-limiting clause.
func (p *Profile) LimitClause(query string, limit, offset int64) string {
	switch p.paging {
	case pagingOffsetFetch:
		return fmt.Sprintf("%s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", query, offset, limit)
	case pagingRownum:
		// Classic Oracle pagination: the inner ROWNUM bound prunes early,
		// the outer filter skips the offset.
		return fmt.Sprintf(
			"SELECT * FROM (SELECT q.*, ROWNUM rn__ FROM (%s) q WHERE ROWNUM <= %d) WHERE rn__ > %d",
			query, offset+limit, offset,
		)
	case pagingTop:
		// No native offset: fetch offset+limit rows and let the caller skip
		// the first offset rows client-side.
		return fmt.Sprintf("SELECT TOP %d * FROM (%s) q", offset+limit, query)
	default:
		return fmt.Sprintf("%s LIMIT %d OFFSET %d", query, limit, offset)
	}
}

// ClientSideOffset reports whether LimitClause cannot express the offset in
// SQL and the reader must skip offset rows itself.
func (p *Profile) ClientSideOffset() bool { return p.paging == pagingTop }

// CountWrap wraps query in a row-count query. Oracle rejects the AS keyword
// on table aliases, so it is omitted everywhere.
func (p *Profile) CountWrap(query string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM (%s) cnt__", query)
}

// Literal renders v as an embeddable SQL literal. Used only for the resume
// predicate, which is spliced into the source query text; everything else
// goes through bind parameters.
func (p *Profile) Literal(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case time.Time:
		return p.timestampLiteral(t)
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(t)
	}
}

func ansiTimestamp(t time.Time) string {
	return fmt.Sprintf("TIMESTAMP '%s'", t.UTC().Format("2006-01-02 15:04:05.000000"))
}

// plainTimestamp renders a bare quoted timestamp for families that reject the
// ANSI TIMESTAMP keyword on literals and rely on implicit conversion.
func plainTimestamp(t time.Time) string {
	return "'" + t.UTC().Format("2006-01-02 15:04:05.000000") + "'"
}

func oracleTimestamp(t time.Time) string {
	return fmt.Sprintf("TO_TIMESTAMP('%s', 'YYYY-MM-DD HH24:MI:SS.FF6')",
		t.UTC().Format("2006-01-02 15:04:05.000000"))
}
