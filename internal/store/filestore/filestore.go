// Package filestore keeps submitted scripts and generated documents on an
// afero filesystem. Returned paths are relative to the store root and are
// what the database rows hold.
package filestore

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	scriptDir = "sql_scripts"
	pdfDir    = "pdfs"
)

type Store struct {
	fs afero.Fs
}

func New(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// NewOS roots the store at dir on the local disk.
func NewOS(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

func (s *Store) write(dir, name string, data []byte) (string, error) {
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("filestore: mkdir %s: %w", dir, err)
	}
	p := path.Join(dir, name)
	if err := afero.WriteFile(s.fs, p, data, 0o644); err != nil {
		return "", fmt.Errorf("filestore: write %s: %w", p, err)
	}
	return p, nil
}

func (s *Store) WriteScript(business, fingerprint, script string) (string, error) {
	return s.write(scriptDir, safeName(business)+"_"+fingerprint+".sql", []byte(script))
}

func (s *Store) WritePDF(data []byte) (string, error) {
	return s.write(pdfDir, uuid.NewString()+".pdf", data)
}

// Open returns a reader for a path previously returned by this store.
func (s *Store) Open(p string) (io.ReadCloser, int64, error) {
	clean := path.Clean("/" + p)[1:]
	if clean == "" {
		return nil, 0, fmt.Errorf("filestore: invalid path %q", p)
	}
	f, err := s.fs.Open(clean)
	if err != nil {
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, st.Size(), nil
}
