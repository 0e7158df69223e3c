package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned for a journal or lock path on a network mount.
var ErrNetworkFilesystem = errors.New("network filesystem")

// WAL shared memory and flock are both unreliable on these.
var networkFilesystems = map[string]struct{}{
	"9p":         {},
	"afpfs":      {},
	"afs":        {},
	"ceph":       {},
	"cifs":       {},
	"fuse.sshfs": {},
	"nfs":        {},
	"nfs4":       {},
	"smb2":       {},
	"smbfs":      {},
	"webdav":     {},
}

// CheckLocalFilesystem fails when path, or the nearest directory above it
// that exists, is on a network filesystem. The journal database and the
// serve PID lock are both checked with it.
func CheckLocalFilesystem(path string) error {
	return checkLocalFilesystem(path, detectFilesystemType)
}

func checkLocalFilesystem(path string, detect func(string) (string, error)) error {
	if path == "" {
		return errors.New("path is empty")
	}

	existing, err := nearestExisting(path)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", path, err)
	}

	fsType, err := detect(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("%q is on %s (%w); keep journal.path on local disk", path, fsType, ErrNetworkFilesystem)
	}
	return nil
}

// nearestExisting walks up from path until it finds something that exists.
func nearestExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for dir := abs; ; {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
		dir = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return found
}
