//go:build unix

package relocate

import (
	"io/fs"
	"os"
	"syscall"
)

// copyOwner gives path the uid and gid recorded in info. Only privileged
// processes may change ownership, so a failure leaves the creating user as
// owner.
func copyOwner(path string, info fs.FileInfo) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	_ = os.Lchown(path, int(st.Uid), int(st.Gid))
}
