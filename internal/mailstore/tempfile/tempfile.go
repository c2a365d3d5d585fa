// Package tempfile implements spec §4.I's new_temp helper: a
// collision-retrying O_CREAT|O_EXCL temp file generator shared by the MH
// sequence-file codec's write-temp-then-rename discipline (§4.B) and the
// Maildir/MH new-message staging paths (§4.I).
package tempfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// maxAttempts bounds the EEXIST retry loop; a real filesystem will never
// need more than a couple of tries.
const maxAttempts = 1000

// New creates a new file under dir named ".<prefix>-<host>-<pid>-<rand>",
// retrying only on EEXIST, with the given mode. It returns the open
// handle and the path, mirroring new_temp's (handle, path) result.
func New(dir, prefix string, mode os.FileMode) (*os.File, string, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	pid := os.Getpid()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		name := fmt.Sprintf(".%s-%s-%d-%s", prefix, host, pid, randomToken())
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
		if err == nil {
			return f, path, nil
		}
		if !os.IsExist(err) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("tempfile: exhausted %d attempts under %s", maxAttempts, dir)
}

// randomToken returns a 64-bit-ish random hex token, generated from a
// UUIDv4's bytes rather than hand-rolled crypto/rand plumbing (spec §6's
// "<rand64>").
func randomToken() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:8])
}

// Unlink removes a temp file, ignoring a not-exist error (the file may
// already have been renamed away).
func Unlink(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
