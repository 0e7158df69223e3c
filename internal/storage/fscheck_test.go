package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func fixedDetector(fsType string, seen *string) func(string) (string, error) {
	return func(path string) (string, error) {
		if seen != nil {
			*seen = path
		}
		return fsType, nil
	}
}

func TestCheckLocalFilesystemAllowsLocal(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "journal.db")
	for _, fs := range []string{"apfs", "ext4", "0xef53", "unknown"} {
		if err := checkLocalFilesystem(dbPath, fixedDetector(fs, nil)); err != nil {
			t.Fatalf("%s: expected local filesystem to pass, got: %v", fs, err)
		}
	}
}

func TestCheckLocalFilesystemRejectsNetwork(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "intertalk.lock")
	err := checkLocalFilesystem(lockPath, fixedDetector("nfs4", nil))
	if !errors.Is(err, ErrNetworkFilesystem) {
		t.Fatalf("err = %v, want ErrNetworkFilesystem", err)
	}
	for _, want := range []string{lockPath, "nfs4", "journal.path"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to contain %q, got %q", want, err.Error())
		}
	}
}

func TestCheckLocalFilesystemInspectsNearestExisting(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var inspected string
	err := checkLocalFilesystem(filepath.Join(root, "data", "nested", "journal.db"), fixedDetector("apfs", &inspected))
	if err != nil {
		t.Fatalf("checkLocalFilesystem: %v", err)
	}
	assert.Equal(t, root, inspected)
}

func TestCheckLocalFilesystemErrors(t *testing.T) {
	t.Parallel()

	if err := checkLocalFilesystem("", fixedDetector("apfs", nil)); err == nil {
		t.Fatal("expected error for empty path")
	}

	boom := errors.New("statfs failed")
	err := checkLocalFilesystem(t.TempDir(), func(string) (string, error) { return "", boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped detector error", err)
	}
}

func TestCheckLocalFilesystemTempDir(t *testing.T) {
	t.Parallel()

	if err := CheckLocalFilesystem(filepath.Join(t.TempDir(), "journal.db")); err != nil {
		t.Fatalf("CheckLocalFilesystem on temp dir: %v", err)
	}
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	cases := []struct {
		fs   string
		want bool
	}{
		{"nfs", true},
		{"NFS4", true},
		{" smbfs ", true},
		{"fuse.sshfs", true},
		{"9p", true},
		{"apfs", false},
		{"fuse", false},
		{"0x6969", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isNetworkFilesystem(tc.fs), tc.fs)
	}
}
