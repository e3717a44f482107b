//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package sys

import "os"

// AllocAnon falls back to the Go heap where no anonymous mapping is wired.
func AllocAnon(length int) ([]byte, error) {
	return make([]byte, length), nil
}

func FreeAnon(dat []byte) error {
	return nil
}

func GetSysPageSize() int {
	return os.Getpagesize()
}
