package protocol

import (
	"encoding/json"
	"fmt"
)

// FrameType identifies a framing message on the DataChannel. Framing
// messages travel as text; chunk payloads travel as binary messages.
type FrameType string

const (
	FrameFileInfo     FrameType = "file-info"
	FrameFileComplete FrameType = "file-complete"
)

// Frame is a control message separating file structure from raw chunks.
// Name, MIMEType and Size are only set on FrameFileInfo.
type Frame struct {
	Type     FrameType `json:"type"`
	Name     string    `json:"name,omitempty"`
	MIMEType string    `json:"mimeType,omitempty"`
	Size     int64     `json:"size,omitempty"`
}

// FileInfo builds a file-info frame.
func FileInfo(name, mimeType string, size int64) *Frame {
	return &Frame{Type: FrameFileInfo, Name: name, MIMEType: mimeType, Size: size}
}

// FileComplete builds a file-complete frame.
func FileComplete() *Frame {
	return &Frame{Type: FrameFileComplete}
}

// EncodeFrame serializes a framing message for DataChannel.SendText.
func EncodeFrame(f *Frame) string {
	data, _ := json.Marshal(f)
	return string(data)
}

// DecodeFrame parses a text DataChannel message into a Frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataParse, err)
	}

	switch f.Type {
	case FrameFileInfo:
		if f.Size < 0 {
			return nil, fmt.Errorf("%w: negative size %d", ErrMetadataParse, f.Size)
		}
	case FrameFileComplete:
	default:
		return nil, fmt.Errorf("%w: unknown frame type %q", ErrMetadataParse, f.Type)
	}

	return &f, nil
}
