package stream

import (
	"fmt"

	"vodgate/work/utils"
)

// ddBlockSize is the block size used for large-window reads. Reading
// byte-at-a-time with bs=1 is only acceptable for small windows; past
// that the remote dd burns a syscall per byte.
const ddBlockSize = 65536

// BuildReadCommand returns the remote shell command that emits exactly
// the requested bytes of a file on stdout.
//
// A nil window streams the whole file with cat. Small windows use
// single-stage dd with bs=1, which is exact but slow. Large windows
// read block-aligned with dd and trim the edges with tail/head: dd
// skips whole blocks before the window, tail drops the partial block
// prefix, head cuts the output to the window length.
func BuildReadCommand(filePath string, w *Window, smallWindowBytes int64) string {
	quoted := utils.ShellQuote(filePath)

	if w == nil {
		return "cat " + quoted
	}

	if w.Length <= smallWindowBytes {
		return fmt.Sprintf("dd if=%s bs=1 skip=%d count=%d 2>/dev/null", quoted, w.Start, w.Length)
	}

	skipBlocks := w.Start / ddBlockSize
	blockOffset := w.Start % ddBlockSize
	return fmt.Sprintf("dd if=%s bs=%d skip=%d 2>/dev/null | tail -c +%d | head -c %d",
		quoted, ddBlockSize, skipBlocks, blockOffset+1, w.Length)
}
