package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
)

// managedTables are the tables created by migrate.
var managedTables = []string{"presets", "regex_scripts", "proxy_logs"}

// TableSize is the on-disk footprint of one table. Index pages are counted
// toward the table they index.
type TableSize struct {
	Name  string
	Bytes int64
	Rows  int64
}

// GetDBSize returns the main database file plus its WAL file, which holds
// writes not yet checkpointed. In-memory databases report zero.
func (s *SQLiteStore) GetDBSize() (int64, error) {
	if isMemoryPath(s.dbPath) {
		return 0, nil
	}
	info, err := os.Stat(s.dbPath)
	if err != nil {
		return 0, err
	}
	size := info.Size()

	wal, err := os.Stat(s.dbPath + "-wal")
	switch {
	case err == nil:
		size += wal.Size()
	case !errors.Is(err, fs.ErrNotExist):
		return 0, err
	}
	return size, nil
}

// GetTableSizes reports bytes (via the dbstat virtual table) and row counts
// for every managed table, largest first.
func (s *SQLiteStore) GetTableSizes() ([]TableSize, error) {
	rows, err := s.db.Query(`
		SELECT m.tbl_name, SUM(d.pgsize)
		FROM dbstat d
		JOIN sqlite_master m ON m.name = d.name
		WHERE m.tbl_name NOT LIKE 'sqlite_%'
		GROUP BY m.tbl_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bytesByTable := make(map[string]int64, len(managedTables))
	for rows.Next() {
		var name string
		var size int64
		if err := rows.Scan(&name, &size); err != nil {
			return nil, err
		}
		bytesByTable[name] = size
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sizes := make([]TableSize, 0, len(managedTables))
	for _, name := range managedTables {
		var count int64
		// name comes from managedTables, never from input.
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + name).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}
		sizes = append(sizes, TableSize{Name: name, Bytes: bytesByTable[name], Rows: count})
	}
	sort.SliceStable(sizes, func(i, j int) bool { return sizes[i].Bytes > sizes[j].Bytes })
	return sizes, nil
}

func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}
