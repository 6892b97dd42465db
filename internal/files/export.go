package files

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/klauspost/compress/gzip"
)

// ExportResult summarizes a workspace archive.
type ExportResult struct {
	Path      string `json:"path"`
	Files     int    `json:"files"`
	TotalSize int64  `json:"total_size"`
}

// Export writes the whole conversation workspace to a tar.gz archive at
// destPath (an absolute path outside the workspace, typically under the
// data logs dir). Hidden entries are skipped.
func (s *Service) Export(ctx context.Context, conversationID, destPath string) (*ExportResult, error) {
	base, err := s.workspaceDir(conversationID)
	if err != nil {
		return nil, err
	}

	out, err := os.Create(destPath)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	gzWriter := gzip.NewWriter(out)
	defer gzWriter.Close()
	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	result := &ExportResult{Path: destPath}

	// The tar stream is sequential; serialize the concurrent walk callbacks.
	var mu sync.Mutex
	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, base, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil || p == base {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(base, p)

		mu.Lock()
		defer mu.Unlock()

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return nil
		}
		header.Name = rel
		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}

		if !d.IsDir() {
			file, err := os.Open(p)
			if err != nil {
				return nil
			}
			defer file.Close()
			size, err := io.Copy(tarWriter, file)
			if err != nil {
				return err
			}
			result.TotalSize += size
			result.Files++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive workspace: %w", err)
	}
	return result, nil
}
