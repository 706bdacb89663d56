//go:build linux

package listing

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// entryTimes returns the change (ctime) and modification times for a path.
// Linux exposes no portable birth time; ctime is the closest stat gives us.
func entryTimes(path string, info os.FileInfo) (created, modified time.Time) {
	modified = info.ModTime()
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return modified, modified
	}
	created = time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
	return created, modified
}
