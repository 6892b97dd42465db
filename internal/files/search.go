package files

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"

	"github.com/bioinfoflow/backend/internal/shared/id"
)

// Search finds workspace files whose name contains query, case-insensitive.
func (s *Service) Search(ctx context.Context, conversationID, query string) ([]Entry, error) {
	base, err := s.workspaceDir(conversationID)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)

	var mu sync.Mutex
	matches := []Entry{}
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
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.Contains(strings.ToLower(name), needle) {
			return nil
		}

		rel, _ := filepath.Rel(base, p)
		entry := Entry{
			ID:   id.NewFileID().String(),
			Name: name,
			Path: rel,
		}
		if d.IsDir() {
			entry.Type = "folder"
		} else {
			entry.Type = TypeOf(name)
			if info, ierr := d.Info(); ierr == nil {
				entry.Size = info.Size()
			}
		}
		mu.Lock()
		matches = append(matches, entry)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Path < matches[j].Path })
	return matches, nil
}

// Glob matches workspace files against a gitignore-style pattern
// (e.g. "**/*.fastq.gz").
func (s *Service) Glob(ctx context.Context, conversationID, pattern string) ([]Entry, error) {
	base, err := s.workspaceDir(conversationID)
	if err != nil {
		return nil, err
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, doublestar.ErrBadPattern
	}

	paths, err := doublestar.FilepathGlob(filepath.Join(base, pattern))
	if err != nil {
		return nil, err
	}

	matches := make([]Entry, 0, len(paths))
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		rel, rerr := filepath.Rel(base, p)
		if rerr != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		info, serr := os.Stat(p)
		if serr != nil {
			continue
		}
		entry := Entry{
			ID:   id.NewFileID().String(),
			Name: filepath.Base(p),
			Path: rel,
		}
		if info.IsDir() {
			entry.Type = "folder"
		} else {
			entry.Type = TypeOf(entry.Name)
			entry.Size = info.Size()
		}
		matches = append(matches, entry)
	}
	return matches, nil
}
