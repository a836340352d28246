package blockio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/pingcap/errors"
	"github.com/spf13/afero"
)

// TempNameService allocates unique per-sorter temporary directories, the
// external collaborator named in spec section 6 ("produces a unique
// directory path for a sorter; removal is the sorter's responsibility").
type TempNameService struct {
	fs     afero.Fs
	root   string
	nextID atomic.Uint64
}

// NewTempNameService returns a service rooted at root; root is created
// lazily on first allocation.
func NewTempNameService(fs afero.Fs, root string) *TempNameService {
	return &TempNameService{fs: fs, root: root}
}

// NewDir allocates and creates a fresh, empty directory under the service's
// root, unique across the lifetime of this service instance.
func (s *TempNameService) NewDir(prefix string) (string, error) {
	id := s.nextID.Add(1)
	dir := filepath.Join(s.root, fmt.Sprintf("%s-%d", prefix, id))
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Annotatef(err, "blockio: create temp dir %s", dir)
	}
	return dir, nil
}

// FS returns the underlying filesystem, so callers can open files inside
// directories this service allocated.
func (s *TempNameService) FS() afero.Fs { return s.fs }

// RemoveDir deletes dir and everything beneath it, reporting the total
// bytes freed so callers can maintain temp-space accounting (spec section
// 5: "decrements the global temp-space counter by their sizes").
func RemoveDir(fs afero.Fs, dir string) (freed int64, err error) {
	err = afero.Walk(fs, dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.IsDir() {
			freed += info.Size()
		}
		return nil
	})
	if err != nil {
		return freed, errors.Annotatef(err, "blockio: walk temp dir %s", dir)
	}
	if err := fs.RemoveAll(dir); err != nil {
		return freed, errors.Annotatef(err, "blockio: remove temp dir %s", dir)
	}
	return freed, nil
}
