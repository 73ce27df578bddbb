package lwc

// ScratchBuffer is the byte buffer every decode stages its payload into. It
// only grows. Bytes past the length returned by CopyPayload may belong to an
// earlier, larger payload and must never be read.
type ScratchBuffer struct {
	buf []byte
}

// NewScratchBuffer returns a buffer with an initial size of size bytes.
func NewScratchBuffer(size int) *ScratchBuffer {
	if size < 0 {
		size = 0
	}
	return &ScratchBuffer{buf: make([]byte, size)}
}

// EnsureCapacity replaces the buffer with one of exactly n bytes when the
// current one is smaller.
func (s *ScratchBuffer) EnsureCapacity(n int) {
	if len(s.buf) < n {
		s.buf = make([]byte, n)
	}
}

// CopyPayload copies frame[prefixLen:] to the start of the buffer and returns
// the number of bytes copied.
func (s *ScratchBuffer) CopyPayload(frame []byte, prefixLen int) int {
	payload := frame[prefixLen:]
	s.EnsureCapacity(len(payload))
	return copy(s.buf, payload)
}

// Bytes returns the first n bytes of the buffer.
func (s *ScratchBuffer) Bytes(n int) []byte {
	return s.buf[:n]
}

// Size returns the current buffer size.
func (s *ScratchBuffer) Size() int {
	return len(s.buf)
}
