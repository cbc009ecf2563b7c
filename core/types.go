package core

import (
	"fmt"
	"time"
)

// MediaType describes the payload of a message.
type MediaType uint8

const (
	MediaText MediaType = iota
	MediaFile
	MediaPhoto
	MediaLocation
	MediaAudio
	MediaReference
	MediaSticker
)

// String returns the string representation of the MediaType.
func (m MediaType) String() string {
	switch m {
	case MediaText:
		return "text"
	case MediaFile:
		return "file"
	case MediaPhoto:
		return "photo"
	case MediaLocation:
		return "location"
	case MediaAudio:
		return "audio"
	case MediaReference:
		return "reference"
	case MediaSticker:
		return "sticker"
	default:
		return "unknown"
	}
}

// Message is a chat message as seen by listeners and FetchMessage.
type Message struct {
	ID       int64
	Media    MediaType
	Contents []byte
	Created  time.Time
	// Received is set when the message was first handed to a listener.
	Received *time.Time
}

// BroadcastSource is the source string of administrator broadcasts.
const BroadcastSource = "BROADCAST"

// ParseMediaType is the inverse of MediaType.String.
func ParseMediaType(s string) (MediaType, error) {
	for m := MediaText; m <= MediaSticker; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown media type %q", s)
}
