package native

import "bytes"

// LineFramer accumulates stream bytes and yields complete lines without
// the trailing newline. A partial trailing line is held until the next
// Push.
type LineFramer struct {
	buf []byte
}

func (f *LineFramer) Push(data []byte, fn func(line []byte)) {
	f.buf = append(f.buf, data...)
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(f.buf[:i], "\r")
		if len(line) > 0 {
			fn(line)
		}
		f.buf = f.buf[i+1:]
	}
	if len(f.buf) == 0 {
		f.buf = nil
	}
}

// Pending returns the number of buffered bytes not yet framed.
func (f *LineFramer) Pending() int {
	return len(f.buf)
}

// ArrayFramer splits a stream of concatenated top-level JSON arrays,
// such as the output of pw-dump --monitor, into one message per array.
// It tracks bracket depth outside string literals; bytes between arrays
// are discarded.
type ArrayFramer struct {
	buf      []byte
	depth    int
	inString bool
	escaped  bool
	start    int
	scanned  int
}

func (f *ArrayFramer) Push(data []byte, fn func(array []byte)) {
	f.buf = append(f.buf, data...)

	for i := f.scanned; i < len(f.buf); i++ {
		c := f.buf[i]
		if f.inString {
			switch {
			case f.escaped:
				f.escaped = false
			case c == '\\':
				f.escaped = true
			case c == '"':
				f.inString = false
			}
			continue
		}
		switch c {
		case '"':
			if f.depth > 0 {
				f.inString = true
			}
		case '[', '{':
			if f.depth == 0 {
				if c != '[' {
					continue
				}
				f.start = i
			}
			f.depth++
		case ']', '}':
			if f.depth == 0 {
				continue
			}
			f.depth--
			if f.depth == 0 {
				fn(f.buf[f.start : i+1])
				f.buf = f.buf[i+1:]
				f.start = 0
				i = -1
			}
		}
	}

	if f.depth == 0 {
		f.buf = f.buf[:0]
		f.scanned = 0
		return
	}
	f.scanned = len(f.buf)
}
