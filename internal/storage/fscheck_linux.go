//go:build linux

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// linuxFilesystems maps statfs magic numbers to the names used in
// networkFilesystems. Local filesystems are not listed.
var linuxFilesystems = map[uint32]string{
	unix.NFS_SUPER_MAGIC:  "nfs",
	unix.CIFS_SUPER_MAGIC: "cifs",
	unix.SMB_SUPER_MAGIC:  "smbfs",
	unix.SMB2_SUPER_MAGIC: "smb2",
	unix.V9FS_MAGIC:       "9p",
	unix.CEPH_SUPER_MAGIC: "ceph",
	unix.AFS_SUPER_MAGIC:  "afs",
}

func detectFilesystemType(path string) (string, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	return linuxFilesystemName(uint32(st.Type)), nil
}

func linuxFilesystemName(magic uint32) string {
	if name, ok := linuxFilesystems[magic]; ok {
		return name
	}
	return fmt.Sprintf("0x%x", magic)
}
