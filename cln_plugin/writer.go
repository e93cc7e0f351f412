package cln_plugin

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

var (
	TwoNewLines = []byte("\n\n")
)

type writer struct {
	mtx sync.Mutex
	out io.Writer
}

func newWriter(out io.Writer) *writer {
	return &writer{
		out: out,
	}
}

// Write serializes msg and writes it as a single frame. Safe for concurrent
// use.
func (w *writer) Write(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal to json: %w", err)
	}

	data = append(data, TwoNewLines...)

	w.mtx.Lock()
	defer w.mtx.Unlock()
	_, err = w.out.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write to lightningd: %w", err)
	}

	return nil
}
