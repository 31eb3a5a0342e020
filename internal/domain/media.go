package domain

import "time"

// Still is a single serialized snapshot of the camera feed.
type Still struct {
	Data       []byte    `json:"-"`
	MimeType   string    `json:"mime_type"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"captured_at"`
}

// Clip is an assembled recording. It is immutable once produced.
type Clip struct {
	Data       []byte    `json:"-"`
	MimeType   string    `json:"mime_type"`
	Filename   string    `json:"filename"`
	Segments   int       `json:"segments"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Size returns the clip length in bytes.
func (c *Clip) Size() int {
	if c == nil {
		return 0
	}
	return len(c.Data)
}
