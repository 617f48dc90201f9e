package reader

import "bytes"

// lineReader splits the byte stream of a port into newline terminated lines.
//
// It does not use bufio: a timed out read returns (0, nil), which bufio
// treats as a broken reader after a hundred tries.
type lineReader struct {
	port    Port
	buf     [256]byte
	pending []byte
}

func newLineReader(port Port) *lineReader {
	return &lineReader{port: port}
}

// readLine returns the next line including its terminator. If a read times
// out before a terminator arrives, whatever was received so far is returned
// as is and not carried over to the next line. The same happens once a buffer
// full has arrived without a terminator.
func (l *lineReader) readLine() ([]byte, error) {
	for {
		if i := bytes.IndexByte(l.pending, '\n'); i >= 0 {
			line := append([]byte(nil), l.pending[:i+1]...)
			l.pending = append(l.pending[:0], l.pending[i+1:]...)
			return line, nil
		}

		if len(l.pending) >= len(l.buf) {
			// overlong, no frame is this long
			line := l.pending
			l.pending = nil
			return line, nil
		}

		n, err := l.port.Read(l.buf[:])
		l.pending = append(l.pending, l.buf[:n]...)
		if err != nil {
			return nil, err
		}

		if n == 0 {
			// timeout
			line := l.pending
			l.pending = nil
			return line, nil
		}
	}
}
