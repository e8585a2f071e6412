package download

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// createTempfile creates a uniquely-named writable file under cacheDir
// using exclusive creation, chmods it to 0666 masked by the process
// umask, and returns the open file and its absolute path.
//
// Any failure along the way removes the partially-created entry and
// returns a MEMORY-classified error, matching create_tempfile's
// all-or-nothing contract.
func createTempfile(cacheDir string) (*os.File, string, error) {
	f, err := os.CreateTemp(cacheDir, "alpmtmp.")
	if err != nil {
		return nil, "", WithKind(errors.Wrap(err, "create tempfile"), KindMemory)
	}

	path := f.Name()

	mask := getUmask()
	if err := f.Chmod(0666 &^ mask); err != nil {
		f.Close()
		os.Remove(path)
		return nil, "", WithKind(errors.Wrap(err, "chmod tempfile"), KindMemory)
	}

	return f, path, nil
}

// getUmask reads the process umask without permanently changing it:
// umask(2) has no query-only mode, so the value is read by setting it
// and immediately restoring it.
func getUmask() os.FileMode {
	old := unix.Umask(0)
	unix.Umask(old)
	return os.FileMode(old)
}

// partPath returns the resumable ".part" sibling of dest.
func partPath(dest string) string {
	return dest + ".part"
}

// cleanupTemp removes path if it exists, used when unlinkOnFail applies.
func cleanupTemp(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// ensureParentDir makes sure the directory containing path exists.
func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
