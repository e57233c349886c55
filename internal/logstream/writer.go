// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package logstream

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"
)

// SwitchableWriter is an io.Writer whose destination can be swapped
// atomically at runtime. Complete lines passing through it are mirrored
// to an optional Hub.
type SwitchableWriter struct {
	sink atomic.Pointer[sink]
	hub  *Hub
	mu   sync.Mutex // guards the partial-line buffer
	buf  bytes.Buffer
}

type sink struct {
	w io.Writer
	c io.Closer // may be nil
}

// NewSwitchableWriter wraps initial as the first destination. hub may be
// nil to disable line capture.
func NewSwitchableWriter(initial io.Writer, hub *Hub) *SwitchableWriter {
	sw := &SwitchableWriter{hub: hub}
	sw.sink.Store(&sink{w: initial})
	return sw
}

// Write forwards p to the current destination. Errors come back exactly
// as the destination produced them; wrapping would break callers relying
// on standard io.Writer semantics.
func (sw *SwitchableWriter) Write(p []byte) (n int, err error) {
	target := sw.sink.Load()
	if target == nil || target.w == nil {
		return 0, nil
	}

	n, err = target.w.Write(p)
	if err != nil {
		return n, err //nolint:wrapcheck // io.Writer contract
	}

	if sw.hub != nil {
		sw.capture(p[:n])
	}

	return n, nil
}

// capture accumulates written bytes and hands each complete line to the
// hub, newline stripped. A trailing partial line waits for its newline.
func (sw *SwitchableWriter) capture(p []byte) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.buf.Write(p)
	for {
		raw := sw.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			return
		}
		line := string(raw[:idx])
		sw.buf.Next(idx + 1)
		if line != "" {
			sw.hub.Write(line)
		}
	}
}

// Swap atomically replaces the destination and returns the previous
// closer, if any. The caller closes it once no in-flight Write can still
// be using it.
func (sw *SwitchableWriter) Swap(w io.Writer, c io.Closer) io.Closer {
	old := sw.sink.Swap(&sink{w: w, c: c})
	if old != nil {
		return old.c
	}
	return nil
}

// GetHub returns the hub receiving captured lines, or nil.
func (sw *SwitchableWriter) GetHub() *Hub {
	return sw.hub
}
