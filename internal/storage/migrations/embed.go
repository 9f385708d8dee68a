// Package migrations applies the embedded schema files on startup. Every
// file is written to be rerunnable, so the runners apply all of them on
// each boot instead of tracking versions.
package migrations

import (
	"embed"
	"io/fs"
	"sort"
	"strings"
)

//go:embed postgres/*.sql
var PostgresFS embed.FS

//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS

// sqlFile is one embedded migration, trimmed and ready to apply.
type sqlFile struct {
	name string
	sql  string
}

// sqlFiles loads the .sql entries under dir in lexical order, which is
// the order the files are numbered in.
func sqlFiles(fsys embed.FS, dir string) ([]sqlFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var files []sqlFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		data, err := fs.ReadFile(fsys, dir+"/"+name)
		if err != nil {
			return nil, err
		}
		files = append(files, sqlFile{name: name, sql: strings.TrimSpace(string(data))})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}
