// Package store persists tree tensor networks in sqlite databases, so that
// expensively constructed operators can be reused across runs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fumin/tensor"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"ttno/tree"
	"ttno/ttn"
)

const (
	tableShape = "shape"
	tableEntry = "entry"
)

// DB holds tree tensor networks keyed by name.
type DB struct {
	path string
	db   *sql.DB
}

// Open opens the database at fpath, creating it if necessary.
func Open(fpath string) (*DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", fpath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}
	return &DB{path: fpath, db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (name TEXT, node TEXT, dims TEXT, PRIMARY KEY (name, node)) STRICT`, tableShape)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	sqlStr = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (name TEXT, node TEXT, i INTEGER, re REAL, im REAL, PRIMARY KEY (name, node, i)) STRICT`, tableEntry)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Save stores a network under name, replacing any previous one.
func (d *DB) Save(name string, t *ttn.TTN) error {
	ctx, cancel := context.WithTimeout(context.Background(), 48*time.Hour)
	defer cancel()

	if err := d.deleteName(ctx, name); err != nil {
		return errors.Wrap(err, "")
	}
	for id := range t.Tree.PreOrder() {
		w := t.Tensors[id]
		shape := w.Shape()
		sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (name, node, dims) VALUES (?, ?, ?)`, tableShape)
		if _, err := d.db.ExecContext(ctx, sqlStr, name, id, formatDims(shape)); err != nil {
			return errors.Wrap(err, "")
		}
		for idx, v := range w.All() {
			if v == 0 {
				continue
			}
			sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (name, node, i, re, im) VALUES (?, ?, ?, ?, ?)`, tableEntry)
			args := []any{name, id, flatIndex(idx, shape), real(v), imag(v)}
			if _, err := d.db.ExecContext(ctx, sqlStr, args...); err != nil {
				return errors.Wrap(err, fmt.Sprintf("%s %#v", sqlStr, args))
			}
		}
	}
	return nil
}

// Load reads the network stored under name back onto its topology.
func (d *DB) Load(name string, tr *tree.Tree) (*ttn.TTN, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 48*time.Hour)
	defer cancel()

	t := ttn.New(tr)
	for id := range tr.PreOrder() {
		sqlStr := fmt.Sprintf(`SELECT dims FROM %s WHERE name=? AND node=?`, tableShape)
		var dims string
		if err := d.db.QueryRowContext(ctx, sqlStr, name, id).Scan(&dims); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%q %q", name, id))
		}
		shape, err := parseDims(dims)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		w := tensor.Zeros(shape...)

		sqlStr = fmt.Sprintf(`SELECT i, re, im FROM %s WHERE name=? AND node=?`, tableEntry)
		rows, err := d.db.QueryContext(ctx, sqlStr, name, id)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		for rows.Next() {
			var i int
			var re, im float64
			if err := rows.Scan(&i, &re, &im); err != nil {
				rows.Close()
				return nil, errors.Wrap(err, "")
			}
			w.SetAt(multiIndex(i, shape), complex(float32(re), float32(im)))
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "")
		}
		rows.Close()
		t.Tensors[id] = w
	}
	if err := t.CheckBonds(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return t, nil
}

func (d *DB) deleteName(ctx context.Context, name string) error {
	for _, table := range []string{tableShape, tableEntry} {
		sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE name=?`, table)
		if _, err := d.db.ExecContext(ctx, sqlStr, name); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

func formatDims(shape []int) string {
	strs := make([]string, 0, len(shape))
	for _, d := range shape {
		strs = append(strs, strconv.Itoa(d))
	}
	return strings.Join(strs, ",")
}

func parseDims(s string) ([]int, error) {
	strs := strings.Split(s, ",")
	shape := make([]int, 0, len(strs))
	for _, str := range strs {
		d, err := strconv.Atoi(str)
		if err != nil {
			return nil, errors.Wrap(err, s)
		}
		shape = append(shape, d)
	}
	return shape, nil
}

func flatIndex(idx, shape []int) int {
	flat := 0
	for ax, i := range idx {
		flat = flat*shape[ax] + i
	}
	return flat
}

func multiIndex(flat int, shape []int) []int {
	idx := make([]int, len(shape))
	for ax := len(shape) - 1; ax >= 0; ax-- {
		idx[ax] = flat % shape[ax]
		flat /= shape[ax]
	}
	return idx
}
