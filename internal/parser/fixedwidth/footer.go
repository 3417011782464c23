package fixedwidth

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
)

const (
	// footerWindow is the tail read first; almost every export ends with the
	// footer and nothing else.
	footerWindow = 64
	// scanChunk is the block size for the backward scan.
	scanChunk = 4096
	// footerPrefixMax bounds how many bytes after a candidate newline the
	// backward scan needs to see to recognise the footer.
	footerPrefixMax = 40
)

var (
	footerTailRe = regexp.MustCompile(`\n\((\d+) rows affected\)\r?\n$`)
	footerScanRe = regexp.MustCompile(`\A\n\((\d+) rows `)
)

// scanFooter returns the record count declared by the export footer. It first
// matches the last footerWindow bytes; failing that it walks backward from
// the end of the file one byte at a time until `\n(<digits> rows ` starts at
// the current position.
func scanFooter(ctx context.Context, r io.ReaderAt, size int64) (int, error) {
	win := int64(footerWindow)
	if win > size {
		win = size
	}
	tail := make([]byte, win)
	if _, err := r.ReadAt(tail, size-win); err != nil && err != io.EOF {
		return 0, fmt.Errorf("read footer: %w", err)
	}
	if m := footerTailRe.FindSubmatch(tail); m != nil {
		return atoiCount(m[1])
	}

	// carry holds the bytes that follow the current block so a footer that
	// straddles two blocks is still seen whole.
	var carry []byte
	for end := size; end > 0; {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		start := end - scanChunk
		if start < 0 {
			start = 0
		}
		n := int(end - start)
		blk := make([]byte, n, n+len(carry))
		if _, err := r.ReadAt(blk, start); err != nil && err != io.EOF {
			return 0, fmt.Errorf("scan footer: %w", err)
		}
		blk = append(blk, carry...)

		for i := n - 1; i >= 0; i-- {
			if blk[i] != '\n' {
				continue
			}
			if m := footerScanRe.FindSubmatch(blk[i:]); m != nil {
				return atoiCount(m[1])
			}
		}

		if len(blk) > footerPrefixMax {
			blk = blk[:footerPrefixMax]
		}
		carry = blk
		end = start
	}
	return 0, fmt.Errorf("%w: footer \"(N rows affected)\" not found", ErrMalformedSource)
}

func atoiCount(b []byte) (int, error) {
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return 0, fmt.Errorf("%w: footer count %q: %v", ErrMalformedSource, b, err)
	}
	return n, nil
}
