package source

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFromText(t *testing.T) {
	s := FromText("hello")
	if s.Kind != KindText || s.MIMEType != "text/plain" || s.SizeBytes != 5 {
		t.Errorf("unexpected source %+v", s)
	}
	body, err := s.Loader()
	if err != nil || string(body) != "hello" {
		t.Errorf("loader = (%q, %v)", body, err)
	}
	if err := Validate(s); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	if err := os.WriteFile(path, []byte(`{"k":1}`), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := FromFile(path, "")
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	if s.MIMEType != "application/json" {
		t.Errorf("detected MIME = %q", s.MIMEType)
	}
	if s.SizeBytes != 7 {
		t.Errorf("size = %d", s.SizeBytes)
	}
	body, err := s.Loader()
	if err != nil || string(body) != `{"k":1}` {
		t.Errorf("loader = (%q, %v)", body, err)
	}

	if _, err := FromFile("  ", ""); err == nil {
		t.Error("blank path must be rejected")
	}
}

func TestFromFileMissingIsLazy(t *testing.T) {
	s, err := FromFile("/nonexistent/file.txt", "text/plain")
	if err != nil {
		t.Fatalf("construction must not touch the file: %v", err)
	}
	if _, err := s.Loader(); err == nil {
		t.Error("loading a missing file must fail")
	}
}

func TestFromURI(t *testing.T) {
	s, err := FromURI("https://example.com/a.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("FromURI: %v", err)
	}
	if s.Kind != KindURI {
		t.Errorf("kind = %q", s.Kind)
	}
	if _, err := s.Loader(); err == nil {
		t.Error("uri loader must refuse to materialize")
	}

	if _, err := FromURI("ftp://example.com/x", ""); err == nil {
		t.Error("non-http scheme must be rejected")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		source  Source
		wantErr bool
	}{
		{"ok", FromText("x"), false},
		{"unknown_kind", Source{Kind: "weird", Identifier: "x", MIMEType: "text/plain", Loader: func() ([]byte, error) { return nil, nil }}, true},
		{"empty_identifier", Source{Kind: KindText, Identifier: " ", MIMEType: "text/plain", Loader: func() ([]byte, error) { return nil, nil }}, true},
		{"empty_mime", Source{Kind: KindText, Identifier: "x", Loader: func() ([]byte, error) { return nil, nil }}, true},
		{"nil_loader", Source{Kind: KindText, Identifier: "x", MIMEType: "text/plain"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.source); (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
