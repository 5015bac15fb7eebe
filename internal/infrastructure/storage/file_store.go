package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"lanrelay/internal/core/domain"
	"lanrelay/internal/core/ports"
	"lanrelay/pkg/validation"
)

const partSuffix = ".part"

type fileKey struct {
	owner    domain.SessionID
	filename string
}

// FileStore keeps uploads under <base>/<owner>/<filename>. Bytes are written
// to a temporary .part file and renamed into place on Commit; only committed
// files are listed in the index and served by Open.
type FileStore struct {
	basePath    string
	maxFilename int
	logger      *zap.SugaredLogger

	mu    sync.RWMutex
	index map[fileKey]domain.StoredFile
}

// NewFileStore creates the base directory. With purge set, anything left
// from a previous run is removed first.
func NewFileStore(basePath string, maxFilename int, purge bool, logger *zap.SugaredLogger) (*FileStore, error) {
	if purge {
		if err := os.RemoveAll(basePath); err != nil {
			return nil, fmt.Errorf("failed to purge upload directory: %w", err)
		}
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	fs := &FileStore{
		basePath:    basePath,
		maxFilename: maxFilename,
		logger:      logger.With("component", "storage"),
		index:       make(map[fileKey]domain.StoredFile),
	}
	if !purge {
		fs.cleanupParts()
	}
	return fs, nil
}

var _ ports.FileStore = (*FileStore)(nil)

func (fs *FileStore) BasePath() string {
	return fs.basePath
}

func (fs *FileStore) resolve(owner domain.SessionID, filename string) (string, string, error) {
	if err := validation.ValidateSessionID(string(owner)); err != nil {
		return "", "", err
	}
	name, err := validation.SanitizeFilename(filename, fs.maxFilename)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(fs.basePath, string(owner)), name, nil
}

// Create starts an upload.
func (fs *FileStore) Create(owner domain.SessionID, filename string) (ports.Upload, error) {
	dir, name, err := fs.resolve(owner, filename)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create owner directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*"+partSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}

	return &upload{
		store: fs,
		file:  tmp,
		key:   fileKey{owner: owner, filename: name},
		final: filepath.Join(dir, name),
	}, nil
}

// Open returns a reader for a committed file.
func (fs *FileStore) Open(owner domain.SessionID, filename string) (io.ReadCloser, domain.StoredFile, error) {
	_, name, err := fs.resolve(owner, filename)
	if err != nil {
		return nil, domain.StoredFile{}, err
	}
	key := fileKey{owner: owner, filename: name}

	fs.mu.RLock()
	stored, ok := fs.index[key]
	fs.mu.RUnlock()
	if !ok {
		return nil, domain.StoredFile{}, domain.ErrFileNotFound
	}

	f, err := os.Open(stored.Path)
	if err != nil {
		if os.IsNotExist(err) {
			fs.mu.Lock()
			delete(fs.index, key)
			fs.mu.Unlock()
			return nil, domain.StoredFile{}, domain.ErrFileNotFound
		}
		return nil, domain.StoredFile{}, fmt.Errorf("failed to open stored file: %w", err)
	}
	return f, stored, nil
}

// List returns committed files, oldest first.
func (fs *FileStore) List() []domain.StoredFile {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	files := make([]domain.StoredFile, 0, len(fs.index))
	for _, f := range fs.index {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].StoredAt.Equal(files[j].StoredAt) {
			return files[i].Path < files[j].Path
		}
		return files[i].StoredAt.Before(files[j].StoredAt)
	})
	return files
}

func (fs *FileStore) commit(key fileKey, stored domain.StoredFile) {
	fs.mu.Lock()
	fs.index[key] = stored
	fs.mu.Unlock()
}

// cleanupParts removes temporary files left by a crashed run.
func (fs *FileStore) cleanupParts() {
	_ = filepath.WalkDir(fs.basePath, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), partSuffix) {
			if err := os.Remove(path); err == nil {
				fs.logger.Infow("removed stale partial upload", "path", path)
			}
		}
		return nil
	})
}

type upload struct {
	store   *FileStore
	file    *os.File
	key     fileKey
	final   string
	written int64
	done    bool
}

func (u *upload) Write(p []byte) (int, error) {
	n, err := u.file.Write(p)
	u.written += int64(n)
	return n, err
}

// Commit publishes the file. A later upload with the same owner and name
// replaces it.
func (u *upload) Commit() (domain.StoredFile, error) {
	if u.done {
		return domain.StoredFile{}, fmt.Errorf("upload already finished")
	}
	u.done = true

	if err := u.file.Sync(); err != nil {
		u.discard()
		return domain.StoredFile{}, fmt.Errorf("failed to sync upload: %w", err)
	}
	if err := u.file.Close(); err != nil {
		_ = os.Remove(u.file.Name())
		return domain.StoredFile{}, fmt.Errorf("failed to close upload: %w", err)
	}
	if err := os.Rename(u.file.Name(), u.final); err != nil {
		_ = os.Remove(u.file.Name())
		return domain.StoredFile{}, fmt.Errorf("failed to publish upload: %w", err)
	}

	stored := domain.StoredFile{
		Owner:    u.key.owner,
		Filename: u.key.filename,
		Size:     u.written,
		Path:     u.final,
		StoredAt: time.Now(),
	}
	u.store.commit(u.key, stored)
	return stored, nil
}

// Abort discards the partial file.
func (u *upload) Abort() error {
	if u.done {
		return nil
	}
	u.done = true
	return u.discard()
}

func (u *upload) discard() error {
	_ = u.file.Close()
	if err := os.Remove(u.file.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove partial upload: %w", err)
	}
	return nil
}
