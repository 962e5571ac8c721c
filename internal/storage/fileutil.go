package storage

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// minFreeBytes is the free-space floor below which downloads are refused,
// leaving headroom for edits and the upload staging copy.
const minFreeBytes = 64 * 1024 * 1024

// checkDiskSpace reports whether the filesystem holding path has room for a
// download. Walks up to the nearest existing parent before asking statfs;
// errs on the permissive side when the filesystem cannot be queried.
func checkDiskSpace(path string) bool {
	dir := path
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return true
		}
		dir = parent
	}

	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return true
	}
	return uint64(st.Bavail)*uint64(st.Bsize) >= minFreeBytes
}

// copyFileTo copies src to dst, replacing dst. Permissions follow src.
func copyFileTo(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// isEmptyDirectory reports whether dir exists and holds no entries.
func isEmptyDirectory(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) == 0
}

// fileExists reports whether path names an existing file.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// iso8601Frac formats a timestamp the way hosts report LastModifiedTime:
// UTC with sub-second precision.
func iso8601Frac(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}
