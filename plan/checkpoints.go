package plan

import "math"

// anchor is a point in recording time that a step's checkpoint should
// represent.
type anchor struct {
	ts    float64
	label string
}

// DeriveCheckpoints picks one reference frame per step from a recording.
// Markers anchor steps in order; steps beyond the available markers get
// anchors spaced evenly across the rest of the recording. The frame nearest
// each anchor in time becomes that step's checkpoint.
func DeriveCheckpoints(bundle RecordingBundle, steps []Step) Checkpoints {
	out := Checkpoints{}
	if len(steps) == 0 || len(bundle.Frames) == 0 {
		return out
	}

	anchors := anchorTimes(bundle, len(steps))
	for i, step := range steps {
		frame := nearestFrame(bundle.Frames, anchors[i].ts)
		out[step.ID] = []Checkpoint{{
			Label:     anchors[i].label,
			PNGBase64: frame.PNGBase64,
		}}
	}
	return out
}

// anchorTimes aligns n steps to the recording timeline. The first
// min(markers, n) steps take their marker timestamps; the remainder are
// spread evenly between the last consumed marker and the final frame so the
// last step always anchors at the recording's end state.
func anchorTimes(bundle RecordingBundle, n int) []anchor {
	frames := bundle.Frames
	first := frames[0].TS
	last := frames[len(frames)-1].TS

	anchors := make([]anchor, 0, n)
	paired := len(bundle.Markers)
	if paired > n {
		paired = n
	}
	for i := 0; i < paired; i++ {
		anchors = append(anchors, anchor{ts: bundle.Markers[i].TS, label: bundle.Markers[i].Label})
	}

	remaining := n - paired
	if remaining == 0 {
		return anchors
	}
	start := first
	if paired > 0 {
		start = bundle.Markers[paired-1].TS
	}
	span := last - start
	for j := 1; j <= remaining; j++ {
		anchors = append(anchors, anchor{ts: start + span*float64(j)/float64(remaining)})
	}
	return anchors
}

func nearestFrame(frames []RecordingFrame, ts float64) RecordingFrame {
	best := frames[0]
	bestDist := math.Abs(frames[0].TS - ts)
	for _, frame := range frames[1:] {
		if dist := math.Abs(frame.TS - ts); dist < bestDist {
			best = frame
			bestDist = dist
		}
	}
	return best
}
