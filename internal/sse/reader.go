// Package sse reads a text/event-stream body one event at a time.
//
// Lines are collected up to the blank line that terminates an event and
// the block is handed to github.com/gin-contrib/sse for field parsing.
package sse

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gin-contrib/sse"

	"github.com/usercast/rtclient/internal/bufpool"
)

// MaxEventSize bounds the raw size of one event block.
const MaxEventSize = 1 << 20

// ErrEventTooLarge is returned when an event block exceeds MaxEventSize.
// The stream cannot be resynchronized after it.
var ErrEventTooLarge = errors.New("sse event too large")

// Event is one dispatched server-sent event.
type Event struct {
	Name string
	ID   string
	Data string
}

// Reader reads events from an underlying stream.
// Release must be called once the Reader is no longer used.
type Reader struct {
	br *bufio.Reader
}

// NewReader returns a Reader reading from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufpool.GetReader(r)}
}

// Release returns the read buffer to the pool.
func (r *Reader) Release() {
	if r.br == nil {
		return
	}
	r.br.Reset(nil)
	bufpool.PutReader(r.br)
	r.br = nil
}

// Next returns the next message event with a data field.
// Comment blocks, events without data and events named anything but
// "message" are skipped, as EventSource.onmessage does.
// An event cut short by the end of the stream is discarded and
// io.ErrUnexpectedEOF is returned; a clean end returns io.EOF.
func (r *Reader) Next() (Event, error) {
	if r.br == nil {
		return Event{}, fmt.Errorf("sse reader released")
	}

	for {
		block, err := readBlock(r.br)
		if err != nil {
			return Event{}, err
		}

		events, err := sse.Decode(strings.NewReader(block))
		if err != nil {
			return Event{}, fmt.Errorf("failed to decode event: %w", err)
		}
		for _, ev := range events {
			if ev.Data == nil || (ev.Event != "" && ev.Event != "message") {
				continue
			}
			data := fmt.Sprint(ev.Data)
			if data == "" {
				continue
			}
			return Event{
				Name: ev.Event,
				ID:   ev.Id,
				Data: data,
			}, nil
		}
	}
}

// readBlock reads lines up to the next blank line and returns them
// terminated by an empty line.
func readBlock(br *bufio.Reader) (string, error) {
	b := bufpool.Get()
	defer bufpool.Put(b)
	line := bufpool.Get()
	defer bufpool.Put(line)

	for {
		line.Reset()
		err := readLine(br, line, MaxEventSize-b.Len())
		if err != nil {
			if err == io.EOF && (b.Len() > 0 || line.Len() > 0) {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		l := bytes.TrimRight(line.Bytes(), "\r\n")
		if len(l) == 0 {
			if b.Len() == 0 {
				continue
			}
			b.WriteString("\n")
			return b.String(), nil
		}
		b.Write(l)
		b.WriteString("\n")
	}
}

// readLine appends one line including its terminator to line.
// It fails with ErrEventTooLarge once more than limit bytes are read.
func readLine(br *bufio.Reader, line *bytes.Buffer, limit int) error {
	for {
		frag, err := br.ReadSlice('\n')
		if line.Len()+len(frag) > limit {
			return ErrEventTooLarge
		}
		line.Write(frag)
		if err != bufio.ErrBufferFull {
			return err
		}
	}
}
