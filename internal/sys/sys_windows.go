//go:build windows

package sys

import (
	"golang.org/x/sys/windows"
	"unsafe"
)

// SYSTEM_INFO defines the Windows SYSTEM_INFO structure.
type SYSTEM_INFO struct {
	ProcessorArchitecture     uint16
	Reserved                  uint16
	PageSize                  uint32
	MinimumApplicationAddress uintptr
	MaximumApplicationAddress uintptr
	ActiveProcessorMask       uintptr
	NumberOfProcessors        uint32
	ProcessorType             uint32
	AllocationGranularity     uint32
	ProcessorLevel            uint16
	ProcessorRevision         uint16
}

// getSystemInfoProc is the lazy-loaded GetSystemInfo function.
var getSystemInfoProc = windows.NewLazySystemDLL("kernel32").NewProc("GetSystemInfo")

// GetSystemInfo retrieves system information.
func GetSystemInfo() (si SYSTEM_INFO, err error) {
	// GetSystemInfo returns void, so r1 carries nothing and err is only meaningful on load failure
	if err = getSystemInfoProc.Find(); err != nil {
		return si, err
	}
	getSystemInfoProc.Call(uintptr(unsafe.Pointer(&si)))
	return si, nil
}

// AllocAnon commits length bytes of zero-filled memory.
func AllocAnon(length int) (dat []byte, err error) {
	addr, err := windows.VirtualAlloc(0, uintptr(length), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length), nil
}

// FreeAnon releases a region returned by AllocAnon.
func FreeAnon(dat []byte) (err error) {
	if len(dat) == 0 {
		return nil
	}
	return windows.VirtualFree(uintptr(unsafe.Pointer(&dat[0])), 0, windows.MEM_RELEASE)
}

// GetSysPageSize returns the system's memory page size.
func GetSysPageSize() int {
	si, err := GetSystemInfo()
	if err != nil || si.PageSize == 0 {
		// Fallback to a default page size (4096 is common on Windows)
		return 4096
	}
	return int(si.PageSize)
}
