// Package source defines the lazily-loaded input units the pipeline consumes.
// A Source never reads content at construction time; the loader runs only
// when a planner or engine actually needs bytes.
package source

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Kind classifies where a source's content lives.
type Kind string

const (
	KindText     Kind = "text"     // Inline text supplied by the caller
	KindFile     Kind = "file"     // Local file path
	KindURI      Kind = "uri"      // Remote http(s) resource
	KindProvider Kind = "provider" // Provider-side reference (e.g. a video platform URL)
)

// Loader produces the content of a source on demand.
type Loader func() ([]byte, error)

// Source is an immutable reference to one unit of input content.
// Identifier and MIMEType are always non-empty; Loader is always callable.
type Source struct {
	Kind       Kind
	Identifier string
	MIMEType   string
	SizeBytes  int64
	Loader     Loader
}

// FromText wraps inline text as a source.
func FromText(text string) Source {
	body := []byte(text)
	return Source{
		Kind:       KindText,
		Identifier: fmt.Sprintf("text:%d", len(body)),
		MIMEType:   "text/plain",
		SizeBytes:  int64(len(body)),
		Loader:     func() ([]byte, error) { return body, nil },
	}
}

// FromFile wraps a local file path. MIME is detected from the extension when
// not supplied. The file is not opened here; size is stat'd best-effort.
func FromFile(path, mimeType string) (Source, error) {
	if strings.TrimSpace(path) == "" {
		return Source{}, fmt.Errorf("file source requires a path")
	}
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
	}
	var size int64
	if stat, err := os.Stat(path); err == nil {
		size = stat.Size()
	}
	return Source{
		Kind:       KindFile,
		Identifier: path,
		MIMEType:   mimeType,
		SizeBytes:  size,
		Loader:     func() ([]byte, error) { return os.ReadFile(path) },
	}, nil
}

// FromURI wraps a remote resource. Content is never fetched by the pipeline
// itself; the loader is a placeholder for callers that materialize remotes.
func FromURI(uri, mimeType string) (Source, error) {
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		return Source{}, fmt.Errorf("uri source requires an http(s) URL, got %q", uri)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return Source{
		Kind:       KindURI,
		Identifier: uri,
		MIMEType:   mimeType,
		Loader:     func() ([]byte, error) { return nil, fmt.Errorf("remote source %s not materialized", uri) },
	}, nil
}

// FromProviderRef wraps a provider-side reference such as a YouTube URL that
// the provider ingests directly. No bytes ever flow through the pipeline.
func FromProviderRef(ref, mimeType string) (Source, error) {
	if strings.TrimSpace(ref) == "" {
		return Source{}, fmt.Errorf("provider source requires a reference")
	}
	if mimeType == "" {
		mimeType = "video/*"
	}
	return Source{
		Kind:       KindProvider,
		Identifier: ref,
		MIMEType:   mimeType,
		Loader:     func() ([]byte, error) { return nil, fmt.Errorf("provider reference %s has no local content", ref) },
	}, nil
}

// Validate checks the source invariants: non-empty identifier and MIME type,
// callable loader, known kind.
func Validate(s Source) error {
	switch s.Kind {
	case KindText, KindFile, KindURI, KindProvider:
	default:
		return fmt.Errorf("unknown source kind %q", s.Kind)
	}
	if strings.TrimSpace(s.Identifier) == "" {
		return fmt.Errorf("source identifier is empty")
	}
	if strings.TrimSpace(s.MIMEType) == "" {
		return fmt.Errorf("source %s has empty MIME type", s.Identifier)
	}
	if s.Loader == nil {
		return fmt.Errorf("source %s has no loader", s.Identifier)
	}
	return nil
}
