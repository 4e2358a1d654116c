package serial

import (
	ioctl "github.com/daedaluz/goioctl"
	"unsafe"
)

// The tty ioctl request numbers this package actually issues. SetAttr
// computes tcsets+when, so TCSADRAIN/TCSAFLUSH land on TCSETSW/TCSETSF
// without naming them here.
var (
	tcgets = uintptr(0x5401) // TCGETS: GetAttr
	tcsets = uintptr(0x5402) // TCSETS: SetAttr base

	tcsbrk = uintptr(0x5409) // TCSBRK with nonzero arg: Drain (tcdrain)
	tcflsh = uintptr(0x540B) // TCFLSH: Flush

	tiocexcl = uintptr(0x540C) // TIOCEXCL: SetExclusive

	tiocswinsz = uintptr(0x5414) // TIOCSWINSZ: SetWinSize

	tiocsptlck  = ioctl.IOW('T', 0x31, unsafe.Sizeof(int32(0))) // TIOCSPTLCK: SetLockPT
	tiocgptpeer = ioctl.IO('T', 0x41)                           // TIOCGPTPEER: GetPTPeer
)
