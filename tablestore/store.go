// Package tablestore keeps canned Huffman tables on disk, so that the same
// table bytes can be installed on the compressing and the decompressing side
// across process runs.
//
// Each table is stored as its serialized form in a snappy-framed file.
package tablestore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"

	"github.com/andybalholm/qpl/flate"
	"github.com/andybalholm/qpl/huffman"
)

const ext = ".qht.sz"

var ErrInvalidName = errors.New("tablestore: invalid table name")

// A Store is a directory of tables.
type Store struct {
	Dir string
}

func (s *Store) path(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.Dir, name+ext), nil
}

// Save writes t under name, replacing any table already stored there.
func (s *Store) Save(name string, t *huffman.Table) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	blob, err := t.MarshalBinary()
	if err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	w := &flate.Writer{
		Dest:        buf,
		MatchFinder: new(blockMatcher),
		Encoder:     frameEncoder{},
		BlockSize:   65536,
	}
	if _, err := w.Write(blob); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	f, err := os.CreateTemp(s.Dir, "."+name+"-*")
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return err
	}
	if err := os.Rename(f.Name(), p); err != nil {
		os.Remove(f.Name())
		return err
	}
	return nil
}

// Load reads the table stored under name. If there is none, the error
// matches fs.ErrNotExist.
func (s *Store) Load(name string) (*huffman.Table, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	blob, err := io.ReadAll(snappy.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("tablestore: reading %s: %w", name, err)
	}
	t := new(huffman.Table)
	if err := t.UnmarshalBinary(blob); err != nil {
		return nil, fmt.Errorf("tablestore: reading %s: %w", name, err)
	}
	return t, nil
}

// Remove deletes the table stored under name.
func (s *Store) Remove(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// List returns the names of the stored tables, in order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.Type().IsRegular() && strings.HasSuffix(n, ext) && !strings.HasPrefix(n, ".") {
			names = append(names, strings.TrimSuffix(n, ext))
		}
	}
	return names, nil
}
