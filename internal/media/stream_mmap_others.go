// +build !linux

package media

// MapStream falls back to reading the whole file on platforms without mmap
// support here.
func MapStream(path string) (*Stream, error) {
	return LoadStream(path)
}
