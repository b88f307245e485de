package modelcache

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by a Store for an absent key
var ErrNotFound = errors.New("cache entry not found")

// Store persists raw cache entries by key
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Close() error
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeKey strips everything but letters, digits, '_' and '-'
func SanitizeKey(productKey string) string {
	return unsafeKeyChars.ReplaceAllString(productKey, "")
}

// FileStore keeps one JSON file per key in a directory.  Writes go to a
// temporary file renamed into place, so readers never see a torn entry;
// concurrent writers of the same key are last-writer-wins.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *FileStore) Get(key string) ([]byte, error) {
	b, err := ioutil.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading cache file for %s", key)
	}
	return b, nil
}

func (s *FileStore) Put(key string, value []byte) error {
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return errors.Wrapf(err, "creating cache directory %s", s.dir)
	}

	tmp, err := ioutil.TempFile(s.dir, key+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temporary cache file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "writing cache file for %s", key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "closing cache file for %s", key)
	}

	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "renaming cache file for %s", key)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}
