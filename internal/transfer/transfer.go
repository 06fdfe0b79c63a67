// Package transfer implements the chunked file transfer protocol that runs
// over an already-open, ordered and reliable message channel.
//
// A transfer is framed as:
//
//	file-info (text) → chunk (binary) × N → file-complete (text)
//
// The sender applies flow control against the channel's buffered amount;
// the receiver accumulates chunks and surfaces the file only on completion.
package transfer

import (
	"errors"
	"io"
)

var (
	// ErrChannelNotOpen is returned when a transfer starts on a closed channel.
	ErrChannelNotOpen = errors.New("channel not open")

	// ErrTransferInterrupted is returned when the channel closes mid-transfer.
	ErrTransferInterrupted = errors.New("transfer interrupted")

	// ErrNoActiveTransfer is reported for chunks or completions that arrive
	// without a preceding file-info.
	ErrNoActiveTransfer = errors.New("no active transfer")
)

// Channel is the direct, ordered, reliable message channel the protocol
// runs on. transport.Transport implements it over a WebRTC DataChannel.
type Channel interface {
	IsOpen() bool
	Send(data []byte) error
	SendText(text string) error

	// BufferedAmount is the number of bytes queued but not yet sent.
	BufferedAmount() uint64
	// Drained receives a value whenever the buffered amount drops below the
	// channel's low-water threshold.
	Drained() <-chan struct{}
	// Done is closed when the channel closes.
	Done() <-chan struct{}
}

// Message is one inbound channel message.
type Message struct {
	Data   []byte
	IsText bool
}

// File is an outgoing file. Size is the declared size carried in file-info.
type File struct {
	Name     string
	MIMEType string
	Size     int64
	Reader   io.Reader
}

// ReceivedFile is a completely reassembled incoming file.
type ReceivedFile struct {
	Name     string
	MIMEType string
	Data     []byte
}

// ProgressFunc receives a percentage in [0,100]. It is called at most once
// per percentage point and never with a smaller value than before.
type ProgressFunc func(percent int)
