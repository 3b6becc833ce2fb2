package plan

// RecordingFrame is one captured screenshot from a teach session.
type RecordingFrame struct {
	TS        float64 `json:"ts"`
	URL       string  `json:"url,omitempty"`
	PNGBase64 string  `json:"pngBase64"`
}

// RecordingMarker is an operator-inserted step boundary.
type RecordingMarker struct {
	TS    float64 `json:"ts"`
	Label string  `json:"label,omitempty"`
}

// RecordingEvent is one observed interaction during a teach session. Type
// selects which of the optional fields are meaningful:
//
//	navigate                url
//	click                   x, y, button, target
//	drag                    startX, startY, endX, endY, button, durationMs, target
//	wheel                   x, y, deltaX, deltaY, count
//	key_down, key_up        key
//	key_down_repeat         key
//	key_hold                key, durationMs
//	type                    target
//	marker                  label
type RecordingEvent struct {
	Type       string         `json:"type"`
	TS         float64        `json:"ts"`
	URL        string         `json:"url,omitempty"`
	X          float64        `json:"x,omitempty"`
	Y          float64        `json:"y,omitempty"`
	Button     string         `json:"button,omitempty"`
	StartX     float64        `json:"startX,omitempty"`
	StartY     float64        `json:"startY,omitempty"`
	EndX       float64        `json:"endX,omitempty"`
	EndY       float64        `json:"endY,omitempty"`
	DeltaX     float64        `json:"deltaX,omitempty"`
	DeltaY     float64        `json:"deltaY,omitempty"`
	Count      int            `json:"count,omitempty"`
	Key        string         `json:"key,omitempty"`
	DurationMS int            `json:"durationMs,omitempty"`
	Label      string         `json:"label,omitempty"`
	Target     map[string]any `json:"target,omitempty"`
}

// RecordingBundle is the complete output of one teach session. Audio is
// optional narration the operator recorded alongside the demonstration; a
// transcript may be kept after the audio itself is stripped.
type RecordingBundle struct {
	RecordingID    string            `json:"recordingId"`
	StartedAt      float64           `json:"startedAt"`
	StoppedAt      float64           `json:"stoppedAt"`
	StartURL       string            `json:"startUrl,omitempty"`
	Frames         []RecordingFrame  `json:"frames"`
	Events         []RecordingEvent  `json:"events"`
	Markers        []RecordingMarker `json:"markers"`
	AudioWavBase64 string            `json:"audioWavBase64,omitempty"`
	Transcript     string            `json:"transcript,omitempty"`
}
