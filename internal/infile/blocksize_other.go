//go:build !linux

package infile

import "os"

const defaultBlockSize = 4096

// discoverBlockSize falls back to a fixed guess on platforms where
// this package has no fallocate-backed range operations anyway (see
// fallocate_other.go); alignment is then cosmetic rather than load-bearing.
func discoverBlockSize(f *os.File) (int64, error) {
	return defaultBlockSize, nil
}
