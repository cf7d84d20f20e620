package client

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func zipContents(t *testing.T, data []byte) map[string]string {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("invalid zip: %v", err)
	}
	out := make(map[string]string)
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		out[f.Name] = string(b)
	}
	return out
}

func keys(m map[string]string) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestPack(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	t.Run("single file is sent as is", func(t *testing.T) {
		dir := t.TempDir()
		p := filepath.Join(dir, "notes.txt")
		writeFile(t, p, "hello")

		b, err := Pack([]string{p}, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b.Name != "notes.txt" || string(b.Data) != "hello" {
			t.Errorf("unexpected bundle %q %q", b.Name, b.Data)
		}
		if b.MimeType == "" {
			t.Error("expected a mime type")
		}
	})

	t.Run("directory is zipped", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "project")
		writeFile(t, filepath.Join(dir, "main.go"), "package main")
		writeFile(t, filepath.Join(dir, "sub", "util.go"), "package sub")

		b, err := Pack([]string{dir}, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b.Name != "project.zip" || b.MimeType != zipMimeType {
			t.Errorf("unexpected bundle %q %q", b.Name, b.MimeType)
		}
		got := zipContents(t, b.Data)
		want := []string{"project/main.go", "project/sub/util.go"}
		if g := keys(got); len(g) != 2 || g[0] != want[0] || g[1] != want[1] {
			t.Errorf("unexpected entries %v", g)
		}
		if got["project/sub/util.go"] != "package sub" {
			t.Errorf("unexpected content %q", got["project/sub/util.go"])
		}
	})

	t.Run("several paths share a timestamped root", func(t *testing.T) {
		dir := t.TempDir()
		a := filepath.Join(dir, "a.txt")
		b := filepath.Join(dir, "docs")
		writeFile(t, a, "A")
		writeFile(t, filepath.Join(b, "b.txt"), "B")

		bundle, err := Pack([]string{a, b}, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if bundle.Name != "upload_2026_03_04_050607.zip" {
			t.Errorf("unexpected name %q", bundle.Name)
		}
		got := zipContents(t, bundle.Data)
		if got["upload_2026_03_04_050607/a.txt"] != "A" || got["upload_2026_03_04_050607/docs/b.txt"] != "B" {
			t.Errorf("unexpected entries %v", keys(got))
		}
	})

	t.Run("no paths", func(t *testing.T) {
		_, err := Pack(nil, now)
		var argErr *ArgError
		if !errors.As(err, &argErr) || argErr.Arg != "<paths>" {
			t.Errorf("expected ArgError for <paths>, got %v", err)
		}
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := Pack([]string{"/definitely/not/here"}, now)
		var argErr *ArgError
		if !errors.As(err, &argErr) {
			t.Fatalf("expected ArgError, got %v", err)
		}
		if argErr.Cause != "not found or not accessible" {
			t.Errorf("unexpected cause %q", argErr.Cause)
		}
	})
}

func TestArgError(t *testing.T) {
	err := &ArgError{Arg: "x", Cause: "bad"}
	if err.Error() != `invalid argument "x": bad` {
		t.Errorf("unexpected message %q", err.Error())
	}
}
