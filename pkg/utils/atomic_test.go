package utils

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.bin")

	err := WriteFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write([]byte("first"))
		return err
	})
	if err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "first" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}

	t.Run("failed write keeps previous content", func(t *testing.T) {
		boom := errors.New("boom")
		err := WriteFileAtomic(path, func(w io.Writer) error {
			_, _ = w.Write([]byte("partial"))
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		data, _ := os.ReadFile(path)
		if string(data) != "first" {
			t.Errorf("content = %q, want %q", data, "first")
		}
		entries, _ := os.ReadDir(filepath.Dir(path))
		if len(entries) != 1 {
			t.Errorf("temp files left behind: %d entries", len(entries))
		}
	})
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.txt")
	if err := os.WriteFile(path, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}
	var got []byte
	err := ReadFile(path, func(r io.Reader) error {
		var err error
		got, err = io.ReadAll(r)
		return err
	})
	if err != nil || string(got) != "payload" {
		t.Errorf("ReadFile = %q, %v", got, err)
	}
	if err := ReadFile(filepath.Join(t.TempDir(), "missing"), func(io.Reader) error { return nil }); !os.IsNotExist(err) {
		t.Errorf("missing file error = %v", err)
	}
}
