package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxMessageSize bounds one encoded message, including its trailing newline.
const MaxMessageSize = 4 << 20

// ErrMessageTooLarge is wrapped by the *DecodeError reported for a line longer than MaxMessageSize.
var ErrMessageTooLarge = errors.New("message too large")

// Reader reads newline-delimited messages.
type Reader struct {
	r   *bufio.Reader
	max int
}

// Writer writes newline-delimited messages. It is safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewReader wraps r in a message Reader.
func NewReader(r io.Reader) *Reader {
	return newReaderSize(r, MaxMessageSize)
}

func newReaderSize(r io.Reader, maxSize int) *Reader {
	return &Reader{r: bufio.NewReader(r), max: maxSize}
}

// NewWriter wraps w in a message Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Read returns the next message.
// A malformed or oversized line yields a *DecodeError and the Reader remains usable.
// io.EOF is returned once the underlying reader is exhausted.
func (r *Reader) Read() (Message, error) {
	for {
		line, err := r.readLine()
		var tooLarge *DecodeError
		if errors.As(err, &tooLarge) {
			return nil, tooLarge
		}
		if len(bytes.TrimSpace(line)) > 0 {
			msg, decodeErr := Decode(line)
			if decodeErr != nil {
				return nil, decodeErr
			}
			return msg, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("reading message: %w", err)
		}
	}
}

// readLine returns the next line including its newline.
// An oversized line is consumed up to its newline and reported as a *DecodeError without an ID.
func (r *Reader) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.r.ReadSlice('\n')
		if len(line)+len(chunk) > r.max {
			for errors.Is(err, bufio.ErrBufferFull) {
				_, err = r.r.ReadSlice('\n')
			}
			return nil, &DecodeError{
				Code: CodeParseError,
				Err:  fmt.Errorf("%w: line exceeds %d bytes", ErrMessageTooLarge, r.max),
			}
		}
		line = append(line, chunk...)
		if !errors.Is(err, bufio.ErrBufferFull) {
			return line, err
		}
	}
}

// Write encodes msg and writes it followed by a newline.
func (w *Writer) Write(msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}

	return nil
}
