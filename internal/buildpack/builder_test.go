package buildpack_test

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/user/modforge/internal/buildpack"
	"github.com/user/modforge/internal/config"
	"github.com/user/modforge/internal/runlog"
)

func newTestBuilder(t *testing.T, repo string) *buildpack.Builder {
	t.Helper()
	return buildpack.NewBuilder(repo, config.BuildConfig{
		Manifest:  "manifest.csv",
		OutputDir: "final_files",
	}, runlog.New(filepath.Join(t.TempDir(), "log.txt")))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func entryCount(t *testing.T, archive string) uint32 {
	t.Helper()
	data, err := os.ReadFile(archive)
	require.NoError(t, err)
	require.Equal(t, "BIGF", string(data[:4]))
	return binary.BigEndian.Uint32(data[8:12])
}

func TestBuilder_BuildArchives(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "manifest.csv"),
		"Name;Path;Content\ntextures.big;/_mod;art/textures data/readme.txt\n")
	writeFile(t, filepath.Join(repo, "_mod/art/textures/a.dds"), "aaa")
	writeFile(t, filepath.Join(repo, "_mod/art/textures/sub/b.dds"), "bbb")
	writeFile(t, filepath.Join(repo, "_mod/data/readme.txt"), "readme")

	builder := newTestBuilder(t, repo)
	artifacts, err := builder.BuildArchives(context.Background())

	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	require.Equal(t, filepath.Join(repo, "final_files", "textures.big"), artifacts[0])
	require.Equal(t, uint32(3), entryCount(t, artifacts[0]))
}

func TestBuilder_BuildArchives_DuplicateDropped(t *testing.T) {
	repo := t.TempDir()
	// The manifest names both a file and a directory that contains the same
	// archive-internal path; only the first insertion survives.
	writeFile(t, filepath.Join(repo, "manifest.csv"),
		"Name;Path;Content\ndata.big;/_mod;data/lotr.str data\n")
	writeFile(t, filepath.Join(repo, "_mod/data/lotr.str"), "strings")

	builder := newTestBuilder(t, repo)
	artifacts, err := builder.BuildArchives(context.Background())

	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	require.Equal(t, uint32(1), entryCount(t, artifacts[0]))
}

func TestBuilder_BuildArchives_MissingContentSkipped(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "manifest.csv"),
		"Name;Path;Content\nsparse.big;/_mod;data/present.txt data/absent.txt\n")
	writeFile(t, filepath.Join(repo, "_mod/data/present.txt"), "here")

	builder := newTestBuilder(t, repo)
	artifacts, err := builder.BuildArchives(context.Background())

	require.NoError(t, err)
	require.Equal(t, uint32(1), entryCount(t, artifacts[0]))
}

func TestBuilder_BuildArchives_MalformedManifest(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "manifest.csv"), "Output;Source\nx;y\n")

	builder := newTestBuilder(t, repo)
	_, err := builder.BuildArchives(context.Background())

	require.Error(t, err)
	require.Contains(t, err.Error(), "manifest")
}
