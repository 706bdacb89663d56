//go:build !linux

package listing

import (
	"os"
	"time"
)

func entryTimes(_ string, info os.FileInfo) (created, modified time.Time) {
	return info.ModTime(), info.ModTime()
}
