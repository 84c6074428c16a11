package procrun

import (
	"bytes"
	"io"
	"sync"
)

// PrefixWriter starts every line written to it with a prefix. Each call to
// Write results in one write to the underlying writer so lines from writers
// that share an underlying writer do not get mixed up.
type PrefixWriter struct {
	w      io.Writer
	prefix []byte

	mu     sync.Mutex
	inLine bool
	buf    []byte
}

func NewPrefixWriter(w io.Writer, prefix []byte) *PrefixWriter {
	return &PrefixWriter{w: w, prefix: prefix}
}

func NewPrefixWriterString(w io.Writer, prefix string) *PrefixWriter {
	return &PrefixWriter{w: w, prefix: []byte(prefix)}
}

func (pw *PrefixWriter) Reset() {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	pw.inLine = false
}

func (pw *PrefixWriter) Write(p []byte) (n int, err error) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	buf := pw.buf[:0]
	for rest := p; len(rest) > 0; {
		if !pw.inLine {
			buf = append(buf, pw.prefix...)
			pw.inLine = true
		}
		nlIdx := bytes.IndexByte(rest, '\n')
		if nlIdx < 0 {
			buf = append(buf, rest...)
			break
		}
		nlIdx++
		buf = append(buf, rest[:nlIdx]...)
		pw.inLine = false
		rest = rest[nlIdx:]
	}
	pw.buf = buf
	if _, err := pw.w.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}
