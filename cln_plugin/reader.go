package cln_plugin

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	maxIntakeBuffer = 500 * 1024 * 1023
)

// ErrInvalidMessage is returned by the reader for a message that is not valid
// json-rpc. Reading can continue after it.
var ErrInvalidMessage = errors.New("invalid message")

type reader struct {
	in       io.ReadCloser
	mtx      sync.Mutex
	scanner  *bufio.Scanner
	buffered []*Request
}

func newReader(in io.ReadCloser) *reader {
	scanner := bufio.NewScanner(in)
	buf := make([]byte, 1024)
	scanner.Buffer(buf, maxIntakeBuffer)

	// cln messages are split by a double newline.
	scanner.Split(scanDoubleNewline)
	return &reader{
		in:      in,
		scanner: scanner,
	}
}

func (r *reader) Close() error {
	return r.in.Close()
}

// Next returns the next request from lightningd. Batches are returned one
// request at a time. Returns io.EOF when lightningd closes the pipe.
func (r *reader) Next() (*Request, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	// If there's buffered requests, take that
	if req := r.takeFromBuffer(); req != nil {
		return req, nil
	}

	// Advance the reader
	if !r.scanner.Scan() {
		if r.scanner.Err() != nil {
			return nil, r.scanner.Err()
		} else {
			return nil, io.EOF
		}
	}

	msg := r.scanner.Bytes()
	if len(msg) == 0 {
		return nil, fmt.Errorf("%w: got zero length message", ErrInvalidMessage)
	}

	// Handle request batches.
	if msg[0] == '[' {
		var batch []*Request
		err := json.Unmarshal(msg, &batch)
		if err != nil {
			return nil, fmt.Errorf(
				"%w: failed to unmarshal request batch: %v",
				ErrInvalidMessage,
				err,
			)
		}

		r.buffered = append(r.buffered, batch...)
		if req := r.takeFromBuffer(); req != nil {
			return req, nil
		}

		return nil, fmt.Errorf("%w: got empty request batch", ErrInvalidMessage)
	}

	// Parse the received buffer into a request object.
	var request Request
	err := json.Unmarshal(msg, &request)
	if err != nil {
		return nil, fmt.Errorf(
			"%w: failed to unmarshal request: %v",
			ErrInvalidMessage,
			err,
		)
	}
	return &request, nil
}

func (r *reader) takeFromBuffer() *Request {
	for len(r.buffered) > 0 {
		req := r.buffered[0]
		r.buffered = r.buffered[1:]
		if req != nil {
			return req
		}
	}

	return nil
}

// Helper method for the bufio scanner to split messages on double newlines.
// A final message without trailing double newline is returned at EOF.
func scanDoubleNewline(
	data []byte,
	atEOF bool,
) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' && (i+1) < len(data) && data[i+1] == '\n' {
			return i + 2, data[:i], nil
		}
	}

	if atEOF && len(bytes.TrimSpace(data)) > 0 {
		return len(data), bytes.TrimSpace(data), nil
	}

	return 0, nil, nil
}
