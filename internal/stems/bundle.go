package stems

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// BundleZip packs canonical stem files into "<inputBase>-stems.zip" using
// STORED (default) or DEFLATE compression depending on compression
// ("deflate"/"compressed" select DEFLATE; anything else is STORED).
func BundleZip(outputDir, inputBase string, stemFiles []string, compression string) (string, error) {
	method := zip.Store
	switch strings.ToLower(compression) {
	case "deflate", "compressed":
		method = zip.Deflate
	}

	zipPath := filepath.Join(outputDir, fmt.Sprintf("%s-stems.zip", inputBase))
	zf, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("stems: create zip: %w", err)
	}
	defer zf.Close()

	zw := zip.NewWriter(zf)
	for _, path := range stemFiles {
		if err := addFileToZip(zw, path, method); err != nil {
			zw.Close()
			return "", err
		}
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("stems: finalize zip: %w", err)
	}
	return zipPath, nil
}

func addFileToZip(zw *zip.Writer, path string, method uint16) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("stems: open %s for bundling: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stems: stat %s: %w", path, err)
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("stems: zip header for %s: %w", path, err)
	}
	hdr.Name = filepath.Base(path)
	hdr.Method = method

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("stems: zip entry for %s: %w", path, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("stems: write zip entry for %s: %w", path, err)
	}
	return nil
}
