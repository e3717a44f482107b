//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package sys

import (
	"golang.org/x/sys/unix"
)

// AllocAnon maps length bytes of private zero-filled memory.
func AllocAnon(length int) (dat []byte, err error) {
	dat, err = unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	return
}

func FreeAnon(dat []byte) (err error) {
	if len(dat) == 0 {
		return nil
	}
	return unix.Munmap(dat)
}

func GetSysPageSize() int {
	return unix.Getpagesize()
}
