package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// MakeArchive packs a snapshot directory into <dir>.tar.gz next to it
// and returns the archive path. The archive contains the directory's
// base name as its single top-level entry, so extraction recreates the
// snapshot layout.
func MakeArchive(dir string) (string, error) {
	dir = filepath.Clean(dir)
	archivePath := dir + ".tar.gz"

	out, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("snapshot: create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	base := filepath.Base(dir)
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(base, rel))

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = name
		if info.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(tw, file)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("snapshot: archive %s: %w", dir, err)
	}
	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("snapshot: finish archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("snapshot: finish archive: %w", err)
	}
	return archivePath, nil
}

// Extract unpacks a .tar or .tar.gz snapshot archive beside itself and
// returns the extracted snapshot directory, the archive's single
// top-level entry.
func Extract(archivePath string) (string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("snapshot: open archive: %w", err)
	}
	defer file.Close()

	var reader io.Reader = file
	gzipped := strings.HasSuffix(archivePath, ".tar.gz") || strings.HasSuffix(archivePath, ".tgz")
	if gzipped {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return "", fmt.Errorf("snapshot: read gzip: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	destRoot := filepath.Dir(archivePath)
	tr := tar.NewReader(reader)
	var root string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("snapshot: read archive: %w", err)
		}

		// Reject entries escaping the destination.
		cleaned := filepath.Clean(header.Name)
		if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
			return "", fmt.Errorf("snapshot: archive entry %q escapes destination", header.Name)
		}
		target := filepath.Join(destRoot, cleaned)

		// The snapshot directory is whatever single top-level entry
		// the archive holds; its name need not match the archive's.
		top, _, _ := strings.Cut(filepath.ToSlash(cleaned), "/")
		switch {
		case root == "":
			root = top
		case root != top:
			return "", fmt.Errorf("snapshot: archive holds multiple top-level entries (%q, %q)", root, top)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", fmt.Errorf("snapshot: extract %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", fmt.Errorf("snapshot: extract %s: %w", header.Name, err)
			}
			out, err := os.Create(target)
			if err != nil {
				return "", fmt.Errorf("snapshot: extract %s: %w", header.Name, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return "", fmt.Errorf("snapshot: extract %s: %w", header.Name, err)
			}
			if err := out.Close(); err != nil {
				return "", fmt.Errorf("snapshot: extract %s: %w", header.Name, err)
			}
		}
	}

	if root == "" {
		return "", fmt.Errorf("snapshot: archive %s is empty", archivePath)
	}
	return filepath.Join(destRoot, root), nil
}

// Resolve turns an import source (a snapshot directory, a local archive,
// or an http(s) URL to an archive) into a local snapshot directory.
func Resolve(ctx context.Context, from string, log *zap.Logger) (string, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if strings.HasPrefix(from, "http://") || strings.HasPrefix(from, "https://") {
		log.Info("downloading snapshot archive", zap.String("url", from))
		local, err := download(ctx, from)
		if err != nil {
			return "", err
		}
		from = local
	}

	if strings.HasSuffix(from, ".tar") || strings.HasSuffix(from, ".tar.gz") || strings.HasSuffix(from, ".tgz") {
		log.Info("extracting snapshot archive", zap.String("archive", from))
		return Extract(from)
	}

	info, err := os.Stat(from)
	if err != nil {
		return "", fmt.Errorf("snapshot: locate %s: %w", from, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("snapshot: %s is neither a directory nor a recognized archive", from)
	}
	return from, nil
}

func download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("snapshot: build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("snapshot: download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("snapshot: download %s: HTTP %d", url, resp.StatusCode)
	}

	local := url[strings.LastIndex(url, "/")+1:]
	if local == "" {
		local = "snapshot.tar.gz"
	}
	out, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("snapshot: create %s: %w", local, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("snapshot: write %s: %w", local, err)
	}
	return local, nil
}
