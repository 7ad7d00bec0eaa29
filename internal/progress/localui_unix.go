//go:build !windows

package progress

import "os"

// enableWindowsANSI is a no-op off Windows; Unix terminals handle ANSI
// escape sequences natively.
func enableWindowsANSI(f *os.File) {}
