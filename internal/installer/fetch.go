package installer

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
)

type archiveFormat int

const (
	archiveTarGz archiveFormat = iota
	archiveZip
)

func (f archiveFormat) ext() string {
	if f == archiveZip {
		return ".zip"
	}
	return ".tar.gz"
}

// fetchArchive downloads url and extracts its contents into dir.
func (i *Installer) fetchArchive(ctx context.Context, url, dir string, format archiveFormat) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building download request: %w", err)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: unexpected status %s", url, resp.Status)
	}

	switch format {
	case archiveZip:
		return i.extractZip(resp.Body, dir)
	default:
		return i.extractTarGz(resp.Body, dir)
	}
}

// extractTarGz streams a gzipped tarball into dir.
func (i *Installer) extractTarGz(r io.Reader, dir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	var total int64
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		dest, err := securePath(dir, hdr.Name)
		if err != nil {
			return err
		}
		n, err := writeFile(dest, tr, hdr.FileInfo().Mode())
		if err != nil {
			return err
		}
		total += n
	}

	i.logger.Info("extracted archive", "dir", dir, "size", humanize.Bytes(uint64(total)))
	return nil
}

// extractZip spools the body to a temporary file (the zip directory lives at
// the end of the stream) and extracts its entries into dir.
func (i *Installer) extractZip(r io.Reader, dir string) error {
	tmp, err := os.CreateTemp("", "upterm-archive-*.zip")
	if err != nil {
		return fmt.Errorf("creating spool file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	size, err := io.Copy(tmp, r)
	if err != nil {
		return fmt.Errorf("spooling archive: %w", err)
	}

	zr, err := zip.OpenReader(tmp.Name())
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer zr.Close()

	var total int64
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		dest, err := securePath(dir, f.Name)
		if err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening archive entry %s: %w", f.Name, err)
		}
		n, err := writeFile(dest, rc, f.Mode())
		rc.Close()
		if err != nil {
			return err
		}
		total += n
	}

	i.logger.Info("extracted archive",
		"dir", dir,
		"download", humanize.Bytes(uint64(size)),
		"size", humanize.Bytes(uint64(total)))
	return nil
}

// securePath resolves an archive entry name under dir, rejecting entries
// that would escape it.
func securePath(dir, name string) (string, error) {
	dest := filepath.Join(dir, filepath.Clean(filepath.FromSlash(name)))
	if dest != dir && !strings.HasPrefix(dest, dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes extraction dir", name)
	}
	return dest, nil
}

func writeFile(dest string, r io.Reader, mode os.FileMode) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
	}
	// Owner-exec is forced because zip archives may not carry unix modes,
	// and the whole point of extraction is a runnable binary.
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm()|0100)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", dest, err)
	}
	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, fmt.Errorf("writing %s: %w", dest, err)
	}
	return n, nil
}
