// Package io splits an incrementally fed SMTP byte stream into lines.
package io

import (
	"bytes"
	"errors"
	"iter"
)

// DefaultMaxLineLength is the RFC 5321 text line limit, terminator included.
const DefaultMaxLineLength = 1000

// DefaultHardLimit bounds how many bytes of a single over-long line are
// discarded before the stream is considered hostile.
const DefaultHardLimit = 64 * 1024

var (
	// ErrLineTooLong is reported once per line that exceeds the maximum.
	// The remainder of that line is discarded up to its terminator.
	ErrLineTooLong = errors.New("smtp: line too long")

	// ErrLineHardLimit is fatal: the scanner refuses further input.
	ErrLineHardLimit = errors.New("smtp: line exceeds hard length limit")
)

// Line is one protocol line with its terminator stripped.
// Bytes aliases the scanner buffer and is only valid until the next Feed.
type Line struct {
	Bytes []byte

	// BareLF is set when the line ended in LF without a preceding CR.
	BareLF bool
}

// Scanner yields complete lines from bytes fed at arbitrary boundaries.
// A Scanner is not safe for concurrent use.
type Scanner struct {
	buf []byte
	off int

	max  int
	hard int

	discarding bool
	discarded  int
	err        error
}

// NewScanner returns a Scanner. max counts the CRLF terminator; a value of
// zero or less disables the limit. hard bounds the discarded run of an
// over-long line.
func NewScanner(max, hard int) *Scanner {
	return &Scanner{max: max, hard: hard}
}

// Feed appends p to the pending input. p is copied.
func (s *Scanner) Feed(p []byte) {
	if s.err != nil {
		return
	}
	if s.off > 0 {
		n := copy(s.buf, s.buf[s.off:])
		s.buf = s.buf[:n]
		s.off = 0
	}
	s.buf = append(s.buf, p...)
}

// Buffered returns the number of bytes held that do not yet form a line.
func (s *Scanner) Buffered() int {
	return len(s.buf) - s.off
}

// Reset drops all pending input and clears any discard in progress.
// A fatal error is not cleared.
func (s *Scanner) Reset() {
	s.buf = s.buf[:0]
	s.off = 0
	s.discarding = false
	s.discarded = 0
}

// Err returns the fatal error, if any.
func (s *Scanner) Err() error {
	return s.err
}

// Next returns the next complete line. ok is false when more input is
// needed or an error is returned. ErrLineTooLong is not fatal: calling Next
// again continues with the following line.
func (s *Scanner) Next() (line Line, ok bool, err error) {
	if s.err != nil {
		return Line{}, false, s.err
	}

	for {
		data := s.buf[s.off:]
		i := bytes.IndexByte(data, '\n')

		if s.discarding {
			if i < 0 {
				s.discarded += len(data)
				s.off = len(s.buf)
				return Line{}, false, s.checkHard()
			}
			s.discarded += i + 1
			s.off += i + 1
			s.discarding = false
			if err := s.checkHard(); err != nil {
				return Line{}, false, err
			}
			continue
		}

		if i < 0 {
			// Even if the LF arrives next, the line would be max+1 long.
			if s.max > 0 && len(data) >= s.max {
				s.discarding = true
				s.discarded = len(data)
				s.off = len(s.buf)
				if err := s.checkHard(); err != nil {
					return Line{}, false, err
				}
				return Line{}, false, ErrLineTooLong
			}
			return Line{}, false, nil
		}

		s.off += i + 1
		if s.max > 0 && i+1 > s.max {
			s.discarded = i + 1
			if err := s.checkHard(); err != nil {
				return Line{}, false, err
			}
			return Line{}, false, ErrLineTooLong
		}

		b := data[:i]
		bare := true
		if len(b) > 0 && b[len(b)-1] == '\r' {
			b = b[:len(b)-1]
			bare = false
		}
		return Line{Bytes: b, BareLF: bare}, true, nil
	}
}

func (s *Scanner) checkHard() error {
	if s.hard > 0 && s.discarded > s.hard {
		s.err = ErrLineHardLimit
		s.buf = nil
		s.off = 0
		return s.err
	}
	return nil
}

// Lines iterates over the lines currently available. Iteration stops when
// more input is needed; after the next Feed, Lines can be ranged over again.
// ErrLineTooLong is yielded in place of the offending line. A fatal error
// is yielded once and ends the iteration.
func (s *Scanner) Lines() iter.Seq2[Line, error] {
	return func(yield func(Line, error) bool) {
		for {
			line, ok, err := s.Next()
			if err != nil {
				if !yield(Line{}, err) || errors.Is(err, ErrLineHardLimit) {
					return
				}
				continue
			}
			if !ok {
				return
			}
			if !yield(line, nil) {
				return
			}
		}
	}
}
