package mcp

import "bytes"

// maxLineSize caps a single protocol line; Ads reports can be large.
const maxLineSize = 16 << 20

// lineBuffer reassembles newline-delimited lines from arbitrary read chunks.
type lineBuffer struct {
	buf []byte
	max int
}

// feed appends chunk and returns every complete line it closes, without the
// trailing newline. The unterminated remainder stays buffered. If the remainder
// grows past the limit it is dropped and ErrLineTooLong is returned alongside
// any lines already completed.
func (l *lineBuffer) feed(chunk []byte) ([][]byte, error) {
	l.buf = append(l.buf, chunk...)

	var lines [][]byte
	for {
		idx := bytes.IndexByte(l.buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(l.buf[:idx], "\r")
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, bytes.Clone(line))
		}
		l.buf = l.buf[idx+1:]
	}

	if len(l.buf) == 0 {
		l.buf = nil
	}

	limit := l.max
	if limit <= 0 {
		limit = maxLineSize
	}
	if len(l.buf) > limit {
		l.buf = nil
		return lines, ErrLineTooLong
	}
	return lines, nil
}

// pending reports the number of buffered bytes awaiting a newline.
func (l *lineBuffer) pending() int {
	return len(l.buf)
}
