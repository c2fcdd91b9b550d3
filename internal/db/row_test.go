package db

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRow_Accessors(t *testing.T) {
	id := uuid.New()
	ts := time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

	row := Row{
		"uuid_native": id,
		"uuid_bytes":  [16]byte(id),
		"text":        "hello",
		"bytes":       []byte("raw"),
		"null":        nil,
		"int64":       int64(42),
		"int32":       int32(7),
		"numeric_str": "19",
		"bool_native": true,
		"bool_int":    int64(1),
		"ts_native":   ts.In(time.FixedZone("ART", -3*3600)),
		"ts_text":     ts.Format(SQLiteTimeLayout),
		"ts_rfc":      ts.Format(time.RFC3339),
		"date_native": ts,
		"date_text":   "2024-05-17",
	}

	assert.Equal(t, id.String(), row.String("uuid_native"))
	assert.Equal(t, id.String(), row.String("uuid_bytes"))
	assert.Equal(t, "hello", row.String("text"))
	assert.Equal(t, "raw", row.String("bytes"))
	assert.Equal(t, "", row.String("null"))
	assert.Equal(t, "", row.String("missing"))
	assert.Nil(t, row.StringPtr("null"))
	assert.Equal(t, "hello", *row.StringPtr("text"))

	assert.Equal(t, int64(42), row.Int("int64"))
	assert.Equal(t, int64(7), row.Int("int32"))
	assert.Equal(t, int64(19), row.Int("numeric_str"))
	assert.Equal(t, int64(0), row.Int("null"))

	assert.True(t, row.Bool("bool_native"))
	assert.True(t, row.Bool("bool_int"))
	assert.False(t, row.Bool("missing"))

	assert.True(t, ts.Equal(row.Time("ts_native")))
	assert.Equal(t, time.UTC, row.Time("ts_native").Location())
	assert.True(t, ts.Equal(row.Time("ts_text")))
	assert.True(t, ts.Equal(row.Time("ts_rfc")))
	assert.True(t, row.Time("null").IsZero())
	assert.Nil(t, row.TimePtr("null"))
	assert.NotNil(t, row.TimePtr("ts_text"))

	assert.Equal(t, "2024-05-17", *row.Date("date_native"))
	assert.Equal(t, "2024-05-17", *row.Date("date_text"))
	assert.Equal(t, "2024-05-17", *row.Date("ts_text"))
	assert.Nil(t, row.Date("null"))
}

func TestDialect(t *testing.T) {
	assert.Equal(t, "?", DialectSQLite.Placeholder(3))
	assert.Equal(t, "$3", DialectPostgres.Placeholder(3))
	assert.Equal(t, `ulower(p.full_name) LIKE ulower(?) ESCAPE '\'`, DialectSQLite.ContainsFold("p.full_name", "?"))
	assert.Equal(t, `p.full_name ILIKE $1 ESCAPE '\'`, DialectPostgres.ContainsFold("p.full_name", "$1"))
	assert.Equal(t, `%50\%\_off\\%`, ContainsPattern(`50%_off\`))
	assert.Equal(t, "sqlite", DialectSQLite.String())
	assert.Equal(t, "postgres", DialectPostgres.Name())
	assert.Equal(t, 1, DialectSQLite.Bool(true))
	assert.Equal(t, false, DialectPostgres.Bool(false))

	ts := time.Date(2024, 1, 2, 3, 4, 5, 6000, time.FixedZone("X", 3600))
	assert.Equal(t, "2024-01-02T02:04:05.000006Z", DialectSQLite.Time(ts))
	assert.Equal(t, ts, DialectPostgres.Time(ts))
}

func TestArgs(t *testing.T) {
	pg := NewArgs(DialectPostgres)
	assert.Equal(t, "$1", pg.Add("a"))
	assert.Equal(t, "$2", pg.Add(2))
	assert.Equal(t, []any{"a", 2}, pg.Values())
	assert.Equal(t, 2, pg.Len())

	lite := NewArgs(DialectSQLite)
	assert.Equal(t, "?", lite.Add("a"))
	assert.Equal(t, "?", lite.Add("b"))
	assert.Equal(t, 2, lite.Len())
}
