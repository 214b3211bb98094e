// Package blob хранит файлы документов (ёмкость HasDocumentsCapacity).
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var ErrInvalidKey = errors.New("invalid blob key")

// Object: результат записи.
type Object struct {
	Key    string
	Size   int64
	SHA256 string
}

type Store interface {
	Put(key string, r io.Reader) (Object, error)
	Open(key string) (io.ReadCloser, error)
	Delete(key string) error
}

// Local: файлы под корнем Root, ключ вида "2026/10/<ulid>".
type Local struct {
	Root string
	Now  func() time.Time
}

func NewLocal(root string) *Local {
	return &Local{Root: root, Now: time.Now}
}

// resolve переводит ключ в путь и не даёт выйти за пределы Root.
func (s *Local) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.Root, clean), nil
}

func (s *Local) newKey() string {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	t := now().UTC()
	return fmt.Sprintf("%04d/%02d/%s", t.Year(), int(t.Month()), ulid.Make().String())
}

// Put пишет содержимое; пустой key: сгенерировать.
func (s *Local) Put(key string, r io.Reader) (Object, error) {
	if key == "" {
		key = s.newKey()
	}
	full, err := s.resolve(key)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Object{}, err
	}
	f, err := os.Create(full)
	if err != nil {
		return Object{}, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if err != nil {
		_ = os.Remove(full)
		return Object{}, err
	}
	return Object{Key: key, Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

func (s *Local) Open(key string) (io.ReadCloser, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

func (s *Local) Delete(key string) error {
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
