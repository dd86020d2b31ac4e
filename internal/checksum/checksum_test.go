package checksum

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestFileMatchesBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memo.m4a")
	data := []byte("not really audio")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := File(path)
	if err != nil {
		t.Fatalf("hash file: %v", err)
	}
	if got != Bytes(data) {
		t.Fatalf("file hash %s does not match bytes hash %s", got, Bytes(data))
	}
	if Bytes(nil) != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("unexpected empty digest %s", Bytes(nil))
	}
}

func TestFileMissing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "absent.m4a"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
