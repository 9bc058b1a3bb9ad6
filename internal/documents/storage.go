package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"infraflow/task-portal/task-portal-backend/pkg/storage"
	"infraflow/task-portal/task-portal-backend/pkg/workflows"
)

// ErrInvalidLocator is returned for locators this store did not produce
var ErrInvalidLocator = errors.New("invalid document locator")

// Store keeps task deliverables in an object bucket. Every upload gets a
// fresh key so earlier versions of a deliverable stay readable.
type Store struct {
	client storage.ObjectClient
	bucket string
	prefix string
}

func NewStore(client storage.ObjectClient, bucket, prefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Put uploads body and returns its locator, bucket/key
func (s *Store) Put(ctx context.Context, taskID uuid.UUID, docType workflows.DocumentType, filename string, body io.Reader) (string, error) {
	key := s.GenerateKey(taskID, docType, filename)
	if err := s.client.Upload(ctx, s.bucket, key, body); err != nil {
		return "", err
	}
	return s.bucket + "/" + key, nil
}

// Open streams the object behind a locator returned by Put
func (s *Store) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	key, ok := strings.CutPrefix(locator, s.bucket+"/")
	if !ok || key == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidLocator, locator)
	}
	return s.client.Download(ctx, s.bucket, key)
}

// GenerateKey builds tasks/<task>/<type>/<unique>-<filename> under the prefix
func (s *Store) GenerateKey(taskID uuid.UUID, docType workflows.DocumentType, filename string) string {
	name := sanitizeFilename(filename)
	key := path.Join("tasks", taskID.String(), strings.ToLower(string(docType)), uuid.NewString()[:8]+"-"+name)
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	return key
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	if name == "." || name == "/" || name == "" {
		return "document"
	}
	return name
}
