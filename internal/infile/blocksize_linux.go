//go:build linux

package infile

import (
	"os"

	"golang.org/x/sys/unix"
)

// defaultBlockSize is used when Fstat fails or reports a block size
// that cannot be right (zero or negative).
const defaultBlockSize = 4096

func discoverBlockSize(f *os.File) (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return defaultBlockSize, nil
	}
	if st.Blksize <= 0 {
		return defaultBlockSize, nil
	}
	return int64(st.Blksize), nil
}
