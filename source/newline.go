package source

import (
	"bufio"
	"io"
)

// crlfReader folds "\r\n" sequences into "\n" while streaming. Lone carriage
// returns pass through unchanged.
type crlfReader struct {
	br *bufio.Reader
}

func newCRLFReader(r io.Reader) io.Reader {
	return &crlfReader{br: bufio.NewReader(r)}
}

func (r *crlfReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		b, err := r.br.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}
		if b == '\r' {
			if next, err := r.br.Peek(1); err == nil && next[0] == '\n' {
				// drop the \r of the pair, the \n follows on the next iteration
				continue
			}
		}
		p[n] = b
		n++
	}
	return n, nil
}
