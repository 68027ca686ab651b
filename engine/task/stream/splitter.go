package stream

import "bytes"

// Splitter turns arbitrary chunks of a byte stream into complete lines. The
// trailing fragment of each chunk is held back until its newline arrives or
// the stream ends.
type Splitter struct {
	buf []byte
}

// Push appends chunk and returns every line it completes.
func (s *Splitter) Push(chunk []byte) []string {
	s.buf = append(s.buf, chunk...)
	var lines []string
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, trimCR(s.buf[:i]))
		s.buf = s.buf[i+1:]
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return lines
}

// Flush returns the held back fragment as a final line and clears the buffer.
func (s *Splitter) Flush() []string {
	if len(s.buf) == 0 {
		s.buf = nil
		return nil
	}
	line := trimCR(s.buf)
	s.buf = nil
	return []string{line}
}

// Pending reports how many bytes are held back.
func (s *Splitter) Pending() int {
	return len(s.buf)
}

func trimCR(b []byte) string {
	return string(bytes.TrimSuffix(b, []byte{'\r'}))
}
