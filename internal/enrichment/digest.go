package enrichment

import (
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
)

// CheckForChanges returns a stable content digest for the file at path, or
// an empty digest when the file does not exist (no file yet means no change).
// The caller compares successive digests itself; this function keeps no
// state. Reading a file that is concurrently being replaced is safe because
// every writer in this system uses temp-file-then-rename.
func CheckForChanges(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(data)), nil
}
