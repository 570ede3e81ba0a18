// Package specstore implements the spec blob store on the local filesystem.
// The location handle is the file path relative to the root directory:
// <source type>/<catalog>/<schema>/<name>.sql.
package specstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/1ambda/dataops-platform-sub014/pkg/models"
	"github.com/1ambda/dataops-platform-sub014/pkg/specstore"
	"github.com/pkg/errors"
)

type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) Save(ctx context.Context, datasetName string, sourceType models.SourceType, specText string) (string, error) {
	location := filepath.Join(
		strings.ToLower(string(sourceType)),
		filepath.Join(strings.Split(datasetName, ".")...),
	) + ".sql"

	full := filepath.Join(s.root, location)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", errors.Wrapf(err, "create spec directory for %s", datasetName)
	}
	if err := os.WriteFile(full, []byte(specText), 0o644); err != nil {
		return "", errors.Wrapf(err, "write spec for %s", datasetName)
	}
	return location, nil
}

func (s *FileStore) Read(ctx context.Context, location string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, location))
	if os.IsNotExist(err) {
		return "", specstore.ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "read spec %s", location)
	}
	return string(raw), nil
}

func (s *FileStore) Update(ctx context.Context, location, specText string) (string, error) {
	full := filepath.Join(s.root, location)
	if _, err := os.Stat(full); os.IsNotExist(err) {
		return "", specstore.ErrNotFound
	}
	if err := os.WriteFile(full, []byte(specText), 0o644); err != nil {
		return "", errors.Wrapf(err, "update spec %s", location)
	}
	return location, nil
}

func (s *FileStore) Delete(ctx context.Context, location string) error {
	err := os.Remove(filepath.Join(s.root, location))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "delete spec %s", location)
	}
	return nil
}
