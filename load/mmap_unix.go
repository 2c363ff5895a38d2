//go:build unix

package load

import (
	"os"

	"golang.org/x/sys/unix"
)

// MapFile maps the named file into memory read-only. Mappings are page-aligned, which satisfies the
// alignment artifact.NewBuildRef requires. Empty files and files that cannot be mapped are read instead.
func MapFile(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 || int64(int(size)) != size || !info.Mode().IsRegular() {
		return readMapping(path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return readMapping(path)
	}
	return &Mapping{data: data, unmap: unix.Munmap}, nil
}
