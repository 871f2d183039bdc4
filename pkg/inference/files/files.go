package files

import (
	"context"
	"mime"

	"github.com/pkg/errors"
)

// TransferMethod tells consumers how a file handle can be resolved.
type TransferMethod string

const (
	TransferToolFile  TransferMethod = "tool_file"
	TransferRemoteURL TransferMethod = "remote_url"
)

// Handle is the externally visible reference to a stored artifact.
type Handle struct {
	ID       string         `json:"id" yaml:"id"`
	URL      string         `json:"url" yaml:"url"`
	MimeType string         `json:"mime_type" yaml:"mime_type"`
	Size     int64          `json:"size" yaml:"size"`
	Transfer TransferMethod `json:"transfer_method" yaml:"transfer_method"`
}

// Blob is a binary payload produced by a tool.
type Blob struct {
	Data     []byte
	MimeType string

	// Name is an optional file name hint used to derive the stored object name.
	Name string
}

// Store registers binary artifacts and hands out file handles for them.
type Store interface {
	Save(ctx context.Context, blob Blob) (Handle, error)
}

var ErrNotFound = errors.New("file not found")

const defaultMimeType = "application/octet-stream"

func normalizeMimeType(m string) string {
	if m == "" {
		return defaultMimeType
	}
	return m
}

func extensionFor(mimeType string) string {
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}
