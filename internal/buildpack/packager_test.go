package buildpack_test

import (
	"archive/zip"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/user/modforge/internal/buildpack"
)

func zipEntries(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}

func TestPackager_PackageBundle(t *testing.T) {
	dir := t.TempDir()
	outputDir := filepath.Join(dir, "final_files")
	asset := filepath.Join(dir, "asset.dat")
	writeFile(t, filepath.Join(outputDir, "textures.big"), "big content")
	writeFile(t, filepath.Join(outputDir, "audio.big"), "more content")
	writeFile(t, asset, "asset bytes")

	packager := buildpack.NewPackager(outputDir, asset)
	bundle := filepath.Join(dir, "beta_1.0_2.zip")
	require.NoError(t, packager.PackageBundle(context.Background(), bundle))

	require.ElementsMatch(t,
		[]string{"textures.big", "audio.big", "asset.dat"},
		zipEntries(t, bundle))
}

func TestPackager_PackageBundle_MissingAsset(t *testing.T) {
	dir := t.TempDir()
	outputDir := filepath.Join(dir, "final_files")
	writeFile(t, filepath.Join(outputDir, "textures.big"), "big content")

	packager := buildpack.NewPackager(outputDir, filepath.Join(dir, "asset.dat"))
	err := packager.PackageBundle(context.Background(), filepath.Join(dir, "bundle.zip"))

	require.Error(t, err)
	require.Contains(t, err.Error(), "auxiliary asset")
	require.NoFileExists(t, filepath.Join(dir, "bundle.zip"))
}

func TestPackager_PackageFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "textures.big")
	writeFile(t, src, "big content")

	packager := buildpack.NewPackager(dir, filepath.Join(dir, "asset.dat"))
	dest := filepath.Join(dir, "textures.big.zip")
	require.NoError(t, packager.PackageFile(context.Background(), src, "textures.big", dest))

	require.Equal(t, []string{"textures.big"}, zipEntries(t, dest))

	r, err := zip.OpenReader(dest)
	require.NoError(t, err)
	defer r.Close()

	f, err := r.File[0].Open()
	require.NoError(t, err)
	defer f.Close()

	content, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "big content", string(content))
}
