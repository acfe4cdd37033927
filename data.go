package wren

// DataDecoder turns the lines of a DATA body into message content. It strips
// the transparency dot (RFC 5321 Section 4.5.2), recognizes the terminating
// "." line and enforces the size limit. Only the current line is held.
type DataDecoder struct {
	max  int64
	size int64
	err  error
	buf  []byte
}

// NewDataDecoder returns a decoder for a message of at most max bytes.
// A max of zero or less disables the limit.
func NewDataDecoder(max int64) *DataDecoder {
	return &DataDecoder{max: max}
}

// Reset prepares d for a new message.
func (d *DataDecoder) Reset(max int64) {
	d.max = max
	d.size = 0
	d.err = nil
	d.buf = d.buf[:0]
}

// Decode consumes one body line without its terminator. done is true for
// the end-of-data line; only a "." that was CRLF terminated counts, so a
// bare LF cannot be used to smuggle a second message. Otherwise chunk holds
// the unstuffed line with CRLF appended, or nil once the message has
// failed. chunk is reused by the next call.
func (d *DataDecoder) Decode(line []byte, bareLF bool) (chunk []byte, done bool) {
	if len(line) == 1 && line[0] == '.' && !bareLF {
		return nil, true
	}
	// A bare LF "." is delivered as is, not unstuffed to an empty line.
	if len(line) > 1 && line[0] == '.' {
		line = line[1:]
	}
	if d.err != nil {
		return nil, false
	}

	n := int64(len(line)) + 2
	if d.max > 0 && d.size+n > d.max {
		d.err = ErrMessageTooLarge
		return nil, false
	}
	d.size += n

	d.buf = append(d.buf[:0], line...)
	d.buf = append(d.buf, '\r', '\n')
	return d.buf, false
}

// Fail marks the message as failed; the rest of the body is still consumed
// but no more chunks are produced. The first failure is kept.
func (d *DataDecoder) Fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

// Err returns the reason the message failed, or nil.
func (d *DataDecoder) Err() error {
	return d.err
}

// Size returns the number of content bytes produced so far.
func (d *DataDecoder) Size() int64 {
	return d.size
}
