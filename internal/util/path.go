package util

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const ArchiveExt = ".tgz"

// ArchiveName builds the canonical archive filename for an app release.
// The filename is the sole addressing scheme for stored artifacts.
func ArchiveName(uid int, version string) string {
	return fmt.Sprintf("%d_%s%s", uid, version, ArchiveExt)
}

// ArchivePath joins the output directory with the canonical filename.
func ArchivePath(outDir string, uid int, version string) string {
	return filepath.Join(outDir, ArchiveName(uid, version))
}

// ParseArchiveName splits a filename of the form {uid}_{version}.tgz.
// The prefix may be an app slug instead of a uid when the file was named
// by hand; in that case uid is 0 and the prefix is returned as name.
func ParseArchiveName(filename string) (uid int, name, version string, ok bool) {
	base := filepath.Base(filename)
	if !strings.HasSuffix(base, ArchiveExt) {
		return 0, "", "", false
	}
	base = strings.TrimSuffix(base, ArchiveExt)
	idx := strings.Index(base, "_")
	if idx <= 0 || idx == len(base)-1 {
		return 0, "", "", false
	}
	if n, err := strconv.Atoi(base[:idx]); err == nil {
		return n, "", base[idx+1:], true
	}
	// Slugs may contain underscores, so the version is everything after
	// the last one.
	idx = strings.LastIndex(base, "_")
	if idx == len(base)-1 {
		return 0, "", "", false
	}
	return 0, base[:idx], base[idx+1:], true
}
