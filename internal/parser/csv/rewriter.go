package csv

import (
	"bufio"
	"bytes"
	"io"
)

// streamingRewriter replaces every occurrence of pat with repl while
// streaming. The last len(pat)-1 bytes of each block are carried into the
// next one so matches spanning a chunk boundary are still found.
type streamingRewriter struct {
	br    *bufio.Reader
	pat   []byte
	repl  []byte
	carry []byte
	buf   bytes.Buffer
	chunk []byte
	eof   bool
}

func newStreamingRewriter(r io.Reader, pat, repl []byte) *streamingRewriter {
	return &streamingRewriter{
		br:    bufio.NewReaderSize(r, 64*1024),
		pat:   pat,
		repl:  repl,
		carry: make([]byte, 0, max(len(pat)-1, 0)),
		chunk: make([]byte, 64*1024),
	}
}

func (sr *streamingRewriter) Read(p []byte) (int, error) {
	for sr.buf.Len() == 0 {
		if sr.eof {
			return 0, io.EOF
		}
		if err := sr.fill(); err != nil {
			return 0, err
		}
	}
	return sr.buf.Read(p)
}

// fill reads one chunk, rewrites it and moves everything but the carry into
// buf. At EOF the carry is flushed as well.
func (sr *streamingRewriter) fill() error {
	n, rerr := sr.br.Read(sr.chunk)
	if n > 0 {
		block := append(append([]byte(nil), sr.carry...), sr.chunk[:n]...)
		block = bytes.ReplaceAll(block, sr.pat, sr.repl)

		k := len(sr.pat) - 1
		switch {
		case k == 0:
			sr.buf.Write(block)
			sr.carry = sr.carry[:0]
		case len(block) > k:
			sr.buf.Write(block[:len(block)-k])
			sr.carry = append(sr.carry[:0], block[len(block)-k:]...)
		default:
			sr.carry = append(sr.carry[:0], block...)
		}
	}
	switch {
	case rerr == io.EOF:
		sr.buf.Write(sr.carry)
		sr.carry = sr.carry[:0]
		sr.eof = true
	case rerr != nil:
		return rerr
	}
	return nil
}
