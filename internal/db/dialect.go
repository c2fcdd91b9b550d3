package db

import (
	"strconv"
	"strings"
	"time"
)

// Dialect identifies the SQL flavour an adapter speaks.
type Dialect int

const (
	DialectSQLite Dialect = iota + 1
	DialectPostgres
)

// SQLiteTimeLayout is how timestamps are stored in the embedded engine's TEXT columns.
const SQLiteTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

func (d Dialect) Name() string {
	switch d {
	case DialectSQLite:
		return "sqlite"
	case DialectPostgres:
		return "postgres"
	default:
		return "unknown"
	}
}

func (d Dialect) String() string { return d.Name() }

// Placeholder returns the n-th (1-based) bind parameter marker.
func (d Dialect) Placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Time encodes t as a bind argument. The embedded engine stores timestamps as
// sortable UTC text.
func (d Dialect) Time(t time.Time) any {
	if d == DialectSQLite {
		return t.UTC().Format(SQLiteTimeLayout)
	}
	return t
}

// ContainsFold builds a predicate matching rows whose col contains the bound
// pattern, ignoring case with Unicode folding in both engines. The pattern
// must come from ContainsPattern.
func (d Dialect) ContainsFold(col, placeholder string) string {
	if d == DialectPostgres {
		return col + ` ILIKE ` + placeholder + ` ESCAPE '\'`
	}
	// built-in LIKE only folds ASCII
	return `ulower(` + col + `) LIKE ulower(` + placeholder + `) ESCAPE '\'`
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern escapes LIKE wildcards in term and wraps it in %...%.
func ContainsPattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}

// Bool encodes b as a bind argument.
func (d Dialect) Bool(b bool) any {
	if d == DialectSQLite {
		if b {
			return 1
		}
		return 0
	}
	return b
}

// Args accumulates bind arguments and hands back the matching placeholders,
// so dynamic WHERE and SET clauses read the same in both dialects.
type Args struct {
	dialect Dialect
	values  []any
}

func NewArgs(d Dialect) *Args {
	return &Args{dialect: d}
}

// Add appends v and returns its placeholder.
func (a *Args) Add(v any) string {
	a.values = append(a.values, v)
	return a.dialect.Placeholder(len(a.values))
}

func (a *Args) Values() []any {
	return a.values
}

func (a *Args) Len() int {
	return len(a.values)
}
