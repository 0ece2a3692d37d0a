package ingest

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ExtractZIP unpacks every entry of zipPath under destDir and returns the
// paths of the files written, in archive order.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open archive %s", zipPath)
	}
	defer r.Close() //nolint:errcheck

	var out []string
	for _, f := range r.File {
		path, err := unzipEntry(f, destDir)
		if err != nil {
			return out, err
		}
		if path != "" {
			out = append(out, path)
		}
	}
	return out, nil
}

func unzipEntry(f *zip.File, destDir string) (string, error) {
	dest := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(dest), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("ingest: illegal archive path %q", f.Name)
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return "", eris.Wrap(err, "ingest: create directory")
		}
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", eris.Wrap(err, "ingest: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrapf(err, "ingest: open entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	w, err := os.Create(dest)
	if err != nil {
		return "", eris.Wrap(err, "ingest: create file")
	}
	if _, err := io.Copy(w, rc); err != nil {
		_ = w.Close()
		return "", eris.Wrapf(err, "ingest: write %s", dest)
	}
	if err := w.Close(); err != nil {
		return "", eris.Wrapf(err, "ingest: close %s", dest)
	}
	return dest, nil
}

// FindShapefile resolves path to a readable .shp file. A .shp path is
// returned unchanged. A .zip is extracted into a fresh directory under
// tempDir and the first .shp inside it, by name, is returned together with
// a cleanup func that removes the extraction directory.
func FindShapefile(path, tempDir string) (string, func(), error) {
	noop := func() {}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		if _, err := os.Stat(path); err != nil {
			return "", noop, eris.Wrapf(err, "ingest: shapefile %s", path)
		}
		return path, noop, nil
	case ".zip":
	default:
		return "", noop, eris.Errorf("ingest: %s is neither .shp nor .zip", path)
	}

	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return "", noop, eris.Wrap(err, "ingest: create temp dir")
	}
	dir, err := os.MkdirTemp(tempDir, "shp-*")
	if err != nil {
		return "", noop, eris.Wrap(err, "ingest: create extraction dir")
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			zap.L().Warn("ingest: remove extraction dir", zap.String("dir", dir), zap.Error(err))
		}
	}

	files, err := ExtractZIP(path, dir)
	if err != nil {
		cleanup()
		return "", noop, err
	}

	var shps []string
	for _, f := range files {
		if strings.EqualFold(filepath.Ext(f), ".shp") {
			shps = append(shps, f)
		}
	}
	if len(shps) == 0 {
		cleanup()
		return "", noop, eris.Errorf("ingest: no .shp in %s", path)
	}
	sort.Strings(shps)

	zap.L().Debug("ingest: extracted shapefile",
		zap.String("archive", path),
		zap.String("shp", shps[0]),
		zap.Int("files", len(files)),
	)
	return shps[0], cleanup, nil
}
