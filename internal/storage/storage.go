package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"document-qa/internal/models"
)

// FileStore stages uploaded files so extractors can read them by path.
type FileStore interface {
	// Put writes data under the sanitised name and returns the stored path.
	Put(name string, data []byte) (string, error)
	// Clear removes every staged file. Subdirectories are left alone.
	Clear() error
	// List returns the staged file names, sorted.
	List() ([]string, error)
	// Remove deletes the store's directory together with its contents.
	Remove() error
}

// DirStore keeps staged files in a single flat directory.
type DirStore struct {
	fs  afero.Fs
	dir string
}

// NewDirStoreFs returns a store rooted at dir on fs.
func NewDirStoreFs(fs afero.Fs, dir string) (*DirStore, error) {
	if ok, _ := afero.DirExists(fs, dir); !ok {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", models.ErrStorage, dir, err)
		}
	}
	return &DirStore{fs: fs, dir: dir}, nil
}

func (s *DirStore) Put(name string, data []byte) (string, error) {
	clean, err := SanitizeName(name)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, clean)
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", models.ErrStorage, clean, err)
	}
	log.Debug().Str("path", path).Int("bytes", len(data)).Msg("Staged file")
	return path, nil
}

func (s *DirStore) Clear() error {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
				return fmt.Errorf("%w: create %s: %v", models.ErrStorage, s.dir, err)
			}
			return nil
		}
		return fmt.Errorf("%w: read %s: %v", models.ErrStorage, s.dir, err)
	}
	for _, e := range entries {
		// nested directories belong to other stores sharing this root
		if e.IsDir() {
			continue
		}
		if err := s.fs.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return fmt.Errorf("%w: remove %s: %v", models.ErrStorage, e.Name(), err)
		}
	}
	return nil
}

func (s *DirStore) List() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrStorage, s.dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *DirStore) Remove() error {
	if err := s.fs.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("%w: remove %s: %v", models.ErrStorage, s.dir, err)
	}
	return nil
}

// SanitizeName strips any directory components from name.
func SanitizeName(name string) (string, error) {
	clean := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if clean == "." || clean == ".." || clean == "/" || strings.TrimSpace(clean) == "" {
		return "", fmt.Errorf("%w: invalid file name %q", models.ErrStorage, name)
	}
	return clean, nil
}
