//go:build !unix

package load

// MapFile reads the named file into an aligned buffer. Memory mapping is not supported on this platform.
func MapFile(path string) (*Mapping, error) {
	return readMapping(path)
}
