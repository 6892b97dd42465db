// Package files manages per-conversation workspaces under data/files.
// Every operation resolves paths against the conversation root and rejects
// anything that escapes it.
package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/bioinfoflow/backend/internal/infrastructure/logging"
	"github.com/bioinfoflow/backend/internal/shared/id"
	"github.com/bioinfoflow/backend/internal/shared/paths"
)

var (
	// ErrInvalidPath marks paths that resolve outside the workspace.
	ErrInvalidPath = errors.New("path escapes conversation workspace")
	// ErrNotFound marks missing files.
	ErrNotFound = errors.New("file not found")
)

// childDepth bounds how deep directory children are expanded in listings.
const childDepth = 1

// maxContentBytes caps how much of a file Content will return inline.
const maxContentBytes = 2 << 20

// Entry is one node in a workspace listing.
type Entry struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Type     string  `json:"type"`
	Size     int64   `json:"size,omitempty"`
	Children []Entry `json:"children,omitempty"`
}

// FileContent is a file plus its inline contents.
type FileContent struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Type      string `json:"type"`
	MimeType  string `json:"mime_type,omitempty"`
	Size      int64  `json:"size"`
	Content   string `json:"content"`
	IsBinary  bool   `json:"is_binary"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Service exposes workspace file operations.
type Service struct {
	layout paths.Layout
	logger *logging.Logger
}

// NewService creates the files service.
func NewService(layout paths.Layout, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{layout: layout, logger: logger}
}

// workspaceDir returns the conversation workspace root, creating it on
// first use.
func (s *Service) workspaceDir(conversationID string) (string, error) {
	dir := s.layout.ConversationFilesDir(conversationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace dir: %w", err)
	}
	return dir, nil
}

// resolve joins rel onto the workspace root and guards against traversal.
func (s *Service) resolve(base, rel string) (string, error) {
	full := filepath.Clean(filepath.Join(base, rel))
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, rel)
	}
	return full, nil
}

// List returns the workspace tree rooted at subpath. Hidden entries are
// skipped and folders sort before files.
func (s *Service) List(conversationID, subpath string) ([]Entry, error) {
	base, err := s.workspaceDir(conversationID)
	if err != nil {
		return nil, err
	}
	target := base
	if subpath != "" {
		if target, err = s.resolve(base, subpath); err != nil {
			return nil, err
		}
	}
	if info, err := os.Stat(target); err != nil || !info.IsDir() {
		return []Entry{}, nil
	}
	return s.listDir(target, base, 0), nil
}

func (s *Service) listDir(dir, base string, depth int) []Entry {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Warn("workspace listing failed", zap.String("dir", dir), zap.Error(err))
		return []Entry{}
	}

	result := make([]Entry, 0, len(entries))
	for _, de := range entries {
		name := de.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(dir, name)
		rel, _ := filepath.Rel(base, full)

		if de.IsDir() {
			var children []Entry
			if depth < childDepth {
				children = s.listDir(full, base, depth+1)
			}
			result = append(result, Entry{
				ID:       id.NewFileID().String(),
				Name:     name,
				Path:     rel,
				Type:     "folder",
				Children: children,
			})
			continue
		}

		var size int64
		if info, err := de.Info(); err == nil {
			size = info.Size()
		}
		result = append(result, Entry{
			ID:   id.NewFileID().String(),
			Name: name,
			Path: rel,
			Type: TypeOf(name),
			Size: size,
		})
	}

	sort.SliceStable(result, func(i, j int) bool {
		if (result[i].Type == "folder") != (result[j].Type == "folder") {
			return result[i].Type == "folder"
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// CreateFile writes a new file under subpath and returns its entry.
func (s *Service) CreateFile(conversationID, subpath, name, content string) (*Entry, error) {
	base, err := s.workspaceDir(conversationID)
	if err != nil {
		return nil, err
	}
	full, err := s.resolve(base, filepath.Join(subpath, name))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	rel, _ := filepath.Rel(base, full)
	return &Entry{
		ID:   id.NewFileID().String(),
		Name: filepath.Base(full),
		Path: rel,
		Type: TypeOf(name),
		Size: int64(len(content)),
	}, nil
}

// CreateDirectory creates a directory under subpath.
func (s *Service) CreateDirectory(conversationID, subpath, name string) (*Entry, error) {
	base, err := s.workspaceDir(conversationID)
	if err != nil {
		return nil, err
	}
	full, err := s.resolve(base, filepath.Join(subpath, name))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}
	rel, _ := filepath.Rel(base, full)
	return &Entry{
		ID:       id.NewFileID().String(),
		Name:     filepath.Base(full),
		Path:     rel,
		Type:     "folder",
		Children: []Entry{},
	}, nil
}

// Content reads a file for display. Binary files return a placeholder;
// oversized files are truncated.
func (s *Service) Content(conversationID, relPath string) (*FileContent, error) {
	base, err := s.workspaceDir(conversationID)
	if err != nil {
		return nil, err
	}
	full, err := s.resolve(base, relPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, relPath)
	}

	fc := &FileContent{
		Name: filepath.Base(full),
		Path: relPath,
		Type: TypeOf(full),
		Size: info.Size(),
	}

	mime, isText := detectText(full)
	fc.MimeType = mime
	if !isText {
		fc.IsBinary = true
		fc.Content = "[Binary file content not displayed]"
		return fc, nil
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) > maxContentBytes {
		data = data[:maxContentBytes]
		fc.Truncated = true
	}
	fc.Content = string(data)
	return fc, nil
}

// Update overwrites an existing file's contents.
func (s *Service) Update(conversationID, relPath, content string) (*Entry, error) {
	base, err := s.workspaceDir(conversationID)
	if err != nil {
		return nil, err
	}
	full, err := s.resolve(base, relPath)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(full); err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, relPath)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	return &Entry{
		ID:   id.NewFileID().String(),
		Name: filepath.Base(full),
		Path: relPath,
		Type: TypeOf(full),
		Size: int64(len(content)),
	}, nil
}

// Delete removes a file or directory tree. Returns false for unknown paths.
func (s *Service) Delete(conversationID, relPath string) (bool, error) {
	base, err := s.workspaceDir(conversationID)
	if err != nil {
		return false, err
	}
	full, err := s.resolve(base, relPath)
	if err != nil {
		return false, err
	}
	if full == base {
		return false, fmt.Errorf("%w: refusing to delete workspace root", ErrInvalidPath)
	}
	if _, err := os.Stat(full); err != nil {
		return false, nil
	}
	if err := os.RemoveAll(full); err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}
	return true, nil
}
