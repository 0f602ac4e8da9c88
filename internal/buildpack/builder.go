// Package buildpack turns a checked-out mod tree into uploadable release
// units: it rebuilds the localized string tables, assembles BIG archives from
// the builder manifest, and zips the results.
package buildpack

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/modforge/internal/bigfile"
	"github.com/user/modforge/internal/config"
	"github.com/user/modforge/internal/runlog"
	"github.com/user/modforge/internal/stringtable"
)

type Builder struct {
	repoPath     string
	dataTable    string
	stringTables []config.StringTable
	manifest     string
	outputDir    string
	log          *runlog.Log
}

func NewBuilder(repoPath string, cfg config.BuildConfig, log *runlog.Log) *Builder {
	return &Builder{
		repoPath:     repoPath,
		dataTable:    filepath.Join(repoPath, cfg.DataTable),
		stringTables: cfg.StringTables,
		manifest:     filepath.Join(repoPath, cfg.Manifest),
		outputDir:    filepath.Join(repoPath, cfg.OutputDir),
		log:          log,
	}
}

func (b *Builder) OutputDir() string {
	return b.outputDir
}

// RebuildStringTables regenerates every configured .str file from the data
// table.
func (b *Builder) RebuildStringTables(ctx context.Context) error {
	targets := make(map[string]string, len(b.stringTables))
	for _, st := range b.stringTables {
		targets[filepath.Join(b.repoPath, st.Path)] = st.Column
	}
	return stringtable.Rewrite(b.dataTable, targets)
}

// manifestRow is one archive-construction directive from the builder config.
type manifestRow struct {
	Name    string
	Path    string
	Content []string
}

func (b *Builder) readManifest() ([]manifestRow, error) {
	f, err := os.Open(b.manifest)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = ';'

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("manifest %s is empty", b.manifest)
	}

	columns := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		columns[name] = i
	}
	for _, required := range []string{"Name", "Path", "Content"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("manifest has no %q column", required)
		}
	}

	rows := make([]manifestRow, 0, len(records)-1)
	for _, record := range records[1:] {
		rows = append(rows, manifestRow{
			Name:    record[columns["Name"]],
			Path:    record[columns["Path"]],
			Content: strings.Fields(record[columns["Content"]]),
		})
	}
	return rows, nil
}

// BuildArchives assembles one BIG archive per manifest row and returns the
// built artifact paths.
func (b *Builder) BuildArchives(ctx context.Context) ([]string, error) {
	rows, err := b.readManifest()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(b.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	var artifacts []string
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		archive := bigfile.New()
		modPath := filepath.Join(b.repoPath, strings.TrimPrefix(row.Path, "/"))

		for _, contentPath := range row.Content {
			objectPath := filepath.Join(modPath, filepath.FromSlash(contentPath))
			info, err := os.Stat(objectPath)
			if err != nil {
				continue
			}

			if info.IsDir() {
				if err := addDirectory(archive, modPath, objectPath); err != nil {
					return nil, err
				}
				continue
			}

			data, err := os.ReadFile(objectPath)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", objectPath, err)
			}
			if err := archive.AddFile(archiveName(contentPath), data); err != nil && !errors.Is(err, bigfile.ErrDuplicateEntry) {
				return nil, err
			}
		}

		artifact := filepath.Join(b.outputDir, row.Name)
		if err := archive.Save(artifact); err != nil {
			return nil, fmt.Errorf("saving %s: %w", row.Name, err)
		}
		artifacts = append(artifacts, artifact)
		b.log.Line("Built %s", row.Name)
	}

	return artifacts, nil
}

func addDirectory(archive *bigfile.Archive, modPath, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		name := archiveName(filepath.ToSlash(strings.TrimPrefix(path, modPath)))
		if err := archive.AddFile(name, data); err != nil && !errors.Is(err, bigfile.ErrDuplicateEntry) {
			return err
		}
		return nil
	})
}

// archiveName converts a repo-relative slash path to the archive-internal
// backslash convention, dropping a single leading separator.
func archiveName(path string) string {
	name := strings.ReplaceAll(path, "/", `\`)
	return strings.TrimPrefix(name, `\`)
}
