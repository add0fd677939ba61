package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
)

const (
	svgZipName = "all_svgs.zip"
	pdfName    = "screenshots.pdf"
)

// zipSVGs packs every .svg under dir (recursively) into dir/all_svgs.zip.
// It returns false when there is nothing to pack.
func zipSVGs(dir string) (bool, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".svg") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("archive: zip walk: %w", err)
	}
	if len(files) == 0 {
		return false, nil
	}
	sort.Strings(files)

	out := filepath.Join(dir, svgZipName)
	tmp := out + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return false, fmt.Errorf("archive: zip create: %w", err)
	}
	zw := zip.NewWriter(f)
	for _, p := range files {
		if err := addToZip(zw, dir, p); err != nil {
			zw.Close()
			f.Close()
			os.Remove(tmp)
			return false, err
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return false, fmt.Errorf("archive: zip close: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("archive: zip close: %w", err)
	}
	if err := os.Rename(tmp, out); err != nil {
		return false, fmt.Errorf("archive: zip rename: %w", err)
	}
	return true, nil
}

func addToZip(zw *zip.Writer, base, p string) error {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return fmt.Errorf("archive: zip rel: %w", err)
	}
	w, err := zw.Create(filepath.ToSlash(rel))
	if err != nil {
		return fmt.Errorf("archive: zip entry %s: %w", rel, err)
	}
	src, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("archive: zip open %s: %w", rel, err)
	}
	defer src.Close()
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("archive: zip copy %s: %w", rel, err)
	}
	return nil
}

// screenshotsPDF imports the given PNG files, one per page, into out.
func screenshotsPDF(images []string, out string) error {
	if len(images) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("archive: pdf mkdir: %w", err)
	}
	os.Remove(out)
	imp := pdfcpu.DefaultImportConfig()
	if err := api.ImportImagesFile(images, out, imp, nil); err != nil {
		return fmt.Errorf("archive: pdf import: %w", err)
	}
	return nil
}
