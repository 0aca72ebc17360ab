package source

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	ferrors "github.com/facetd/facetd/internal/errors"
	"github.com/facetd/facetd/pkg/types"
)

// Contribution files hold one table. path is a JSON array of strings and
// nulls, kind is a number kind name, fault marks records the producer
// already knew to be malformed.
const createContributionsSQL = `
	CREATE TABLE contributions (
		doc_id INTEGER NOT NULL,
		path TEXT NOT NULL,
		kind TEXT NOT NULL,
		value,
		weight INTEGER NOT NULL DEFAULT 1,
		fault TEXT
	)
`

const selectContributionsSQL = `SELECT doc_id, path, kind, value, weight, fault FROM contributions ORDER BY rowid`

// SQLiteSource reads contributions from a SQLite file opened read-only.
// Rows that cannot be decoded are yielded with Fault set.
type SQLiteSource struct {
	name string
	path string
}

// NewSQLiteSource creates a source over the file at path.
func NewSQLiteSource(name, path string) *SQLiteSource {
	return &SQLiteSource{name: name, path: path}
}

func (s *SQLiteSource) Name() string { return s.name }

// Path returns the SQLite file path.
func (s *SQLiteSource) Path() string { return s.path }

func (s *SQLiteSource) Each(ctx context.Context, fn func(types.Contribution) error) error {
	dsn := fmt.Sprintf("file:%s?mode=ro&_query_only=true", s.path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return ferrors.NewSourceError(fmt.Sprintf("open %s", s.path), err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return ferrors.NewSourceError(fmt.Sprintf("open %s", s.path), err)
	}

	rows, err := db.QueryContext(ctx, selectContributionsSQL)
	if err != nil {
		return ferrors.NewSourceError(fmt.Sprintf("query %s", s.path), err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			docID  sql.NullInt64
			path   sql.NullString
			kind   sql.NullString
			value  interface{}
			weight sql.NullInt64
			fault  sql.NullString
		)
		if err := rows.Scan(&docID, &path, &kind, &value, &weight, &fault); err != nil {
			return ferrors.NewSourceError(fmt.Sprintf("scan %s", s.path), err)
		}
		if err := fn(decodeRow(docID, path, kind, value, weight, fault)); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return ferrors.NewSourceError(fmt.Sprintf("read %s", s.path), err)
	}
	return nil
}

func decodeRow(docID sql.NullInt64, path, kind sql.NullString, value interface{}, weight sql.NullInt64, fault sql.NullString) types.Contribution {
	c := types.Contribution{DocID: docID.Int64, Weight: 1}

	p, err := types.ParsePath(path.String)
	if err != nil {
		c.Fault = err.Error()
		return c
	}
	c.Path = p

	if fault.Valid && fault.String != "" {
		c.Fault = fault.String
		return c
	}
	if !weight.Valid || weight.Int64 < 0 {
		c.Fault = fmt.Sprintf("invalid weight for doc %d", c.DocID)
		return c
	}
	c.Weight = weight.Int64

	k, err := types.ParseNumberKind(kind.String)
	if err != nil {
		c.Fault = err.Error()
		return c
	}
	n, err := decodeValue(k, value)
	if err != nil {
		c.Fault = fmt.Sprintf("doc %d: %v", c.DocID, err)
		return c
	}
	c.Value = n
	return c
}

func decodeValue(kind types.NumberKind, value interface{}) (types.Number, error) {
	switch v := value.(type) {
	case int64:
		if kind == types.KindInteger {
			return types.Int(v), nil
		}
		return types.Float(float64(v)), nil
	case float64:
		if kind == types.KindFloating {
			return types.Float(v), nil
		}
		if v != math.Trunc(v) || math.Abs(v) >= math.MaxInt64 {
			return types.Number{}, fmt.Errorf("value %v is not an integer", v)
		}
		return types.Int(int64(v)), nil
	case []byte:
		return parseValue(kind, string(v))
	case string:
		return parseValue(kind, v)
	case nil:
		return types.Number{}, fmt.Errorf("null value")
	default:
		return types.Number{}, fmt.Errorf("unsupported value type %T", value)
	}
}

func parseValue(kind types.NumberKind, text string) (types.Number, error) {
	text = strings.TrimSpace(text)
	if kind == types.KindInteger {
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return types.Number{}, fmt.Errorf("value %q is not an integer", text)
		}
		return types.Int(i), nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return types.Number{}, fmt.Errorf("value %q is not a number", text)
	}
	return types.Float(f), nil
}

// WriteSQLite writes items to a new contribution file at path, replacing
// any existing file.
func WriteSQLite(ctx context.Context, path string, items []types.Contribution) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("source: failed to replace %s: %w", path, err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("source: failed to create %s: %w", path, err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, createContributionsSQL); err != nil {
		return fmt.Errorf("source: failed to create contributions table: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("source: failed to begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO contributions (doc_id, path, kind, value, weight, fault) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("source: failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range items {
		var value interface{}
		if c.Value.Kind == types.KindInteger {
			value = c.Value.Int
		} else {
			value = c.Value.Float
		}
		var fault interface{}
		if c.Fault != "" {
			fault = c.Fault
		}
		if _, err := stmt.ExecContext(ctx, c.DocID, c.Path.String(), c.Value.Kind.String(), value, c.Weight, fault); err != nil {
			tx.Rollback()
			return fmt.Errorf("source: failed to insert contribution: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("source: failed to commit: %w", err)
	}
	return db.Close()
}
