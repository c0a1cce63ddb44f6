package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// FileSource reads the credential from a token file. A missing or empty
// file means no credential. The filesystem is abstracted behind afero so
// tests can run against an in-memory fs.
type FileSource struct {
	fs   afero.Fs
	path string
}

// NewFileSource creates a FileSource over the given filesystem.
func NewFileSource(fs afero.Fs, path string) *FileSource {
	return &FileSource{fs: fs, path: path}
}

// Token reads and trims the token file. Absence is reported as an empty
// token, not an error, so a deleted file cleanly drives a disconnect.
func (s *FileSource) Token() (string, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read token file %s: %w", s.path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Watch registers an fsnotify watcher on the token file's directory and
// invokes notify on any event touching the file. It only works on the real
// filesystem; in-memory filesystems fall back to polling alone.
func (s *FileSource) Watch(ctx context.Context, notify func()) error {
	if _, ok := s.fs.(*afero.OsFs); !ok {
		return fmt.Errorf("watch is only supported on the OS filesystem")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create filesystem watcher: %w", err)
	}

	// Watch the directory, not the file: editors and token writers tend to
	// replace the file, which drops a watch registered on the file itself.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	logger := slog.Default().With("component", "credentials")
	target := filepath.Clean(s.path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) == target {
					logger.Debug("Token file changed", "op", event.Op.String())
					notify()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Token file watcher error", "error", err)
			}
		}
	}()

	return nil
}
