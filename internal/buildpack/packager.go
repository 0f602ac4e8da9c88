package buildpack

import (
	"archive/zip"
	"compress/flate"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// AssetName is the canonical archive-internal name of the auxiliary asset.
const AssetName = "asset.dat"

type Packager struct {
	outputDir string
	assetPath string
}

func NewPackager(outputDir, assetPath string) *Packager {
	return &Packager{outputDir: outputDir, assetPath: assetPath}
}

func newZipWriter(f *os.File) *zip.Writer {
	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})
	return zw
}

func addToZip(zw *zip.Writer, src, arcname string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer f.Close()

	w, err := zw.Create(arcname)
	if err != nil {
		return fmt.Errorf("creating zip entry %s: %w", arcname, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("compressing %s: %w", arcname, err)
	}
	return nil
}

// PackageBundle zips every built artifact plus the auxiliary asset into one
// release bundle at dest. A missing asset fails the whole build stage.
func (p *Packager) PackageBundle(ctx context.Context, dest string) error {
	if _, err := os.Stat(p.assetPath); err != nil {
		return fmt.Errorf("auxiliary asset: %w", err)
	}

	entries, err := os.ReadDir(p.outputDir)
	if err != nil {
		return fmt.Errorf("listing artifacts: %w", err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating bundle: %w", err)
	}
	defer f.Close()

	zw := newZipWriter(f)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addToZip(zw, filepath.Join(p.outputDir, entry.Name()), entry.Name()); err != nil {
			return err
		}
	}

	if err := addToZip(zw, p.assetPath, AssetName); err != nil {
		return err
	}
	return zw.Close()
}

// PackageFile zips a single file under arcname, for the per-file download
// units.
func (p *Packager) PackageFile(ctx context.Context, src, arcname, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	defer f.Close()

	zw := newZipWriter(f)
	if err := addToZip(zw, src, arcname); err != nil {
		return err
	}
	return zw.Close()
}

// AssetPath exposes the configured auxiliary asset location.
func (p *Packager) AssetPath() string {
	return p.assetPath
}
