package filestore

import (
	"bytes"
	"context"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("file not found")

// Attachment describes a file uploaded into a conversation.
type Attachment struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Size        int64  `json:"size" yaml:"size"`
}

// Store supplies raw bytes of attachments.
type Store interface {
	Open(ctx context.Context, fileID string) ([]byte, error)
}

// Dir serves attachments from a directory, using the file name as the id.
type Dir struct {
	Root string
}

func (d Dir) Open(_ context.Context, fileID string) ([]byte, error) {
	clean := filepath.Clean("/" + fileID)
	b, err := os.ReadFile(filepath.Join(d.Root, clean))
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrNotFound, fileID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", fileID)
	}
	return b, nil
}

// Describe builds an Attachment for a file under the directory.
func (d Dir) Describe(fileID string) (Attachment, error) {
	clean := filepath.Clean("/" + fileID)
	fi, err := os.Stat(filepath.Join(d.Root, clean))
	if err != nil {
		return Attachment{}, errors.Wrapf(err, "could not stat %s", fileID)
	}
	return Attachment{
		ID:          fileID,
		Name:        filepath.Base(clean),
		ContentType: DetectContentType(fi.Name(), nil),
		Size:        fi.Size(),
	}, nil
}

// Memory is an in-memory Store keyed by file id.
type Memory map[string][]byte

func (m Memory) Open(_ context.Context, fileID string) ([]byte, error) {
	b, ok := m[fileID]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, fileID)
	}
	return bytes.Clone(b), nil
}

// DetectContentType prefers the extension and falls back to sniffing.
func DetectContentType(name string, head []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".txt", ".log":
		return "text/plain"
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if len(head) > 0 {
		return http.DetectContentType(head)
	}
	return "application/octet-stream"
}

var _ Store = Dir{}
var _ Store = Memory{}
