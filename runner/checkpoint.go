package runner

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"math/bits"

	"golang.org/x/image/draw"

	"github.com/jianyangg/show-and-tell/plan"
)

// ahashSize is the side length of the downscaled greyscale thumbnail the
// average hash is computed over: 16x16 = 256 bits.
const ahashSize = 16

// imageHash is a 256-bit average hash packed into four words.
type imageHash [4]uint64

type checkpointHash struct {
	label string
	hash  imageHash
}

// computeAHash decodes a PNG, downscales it to a 16x16 greyscale
// thumbnail, and thresholds each pixel against the mean luminance.
func computeAHash(pngBytes []byte) (imageHash, bool) {
	var h imageHash
	img, err := png.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		return h, false
	}

	small := image.NewGray(image.Rect(0, 0, ahashSize, ahashSize))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	pixels := small.Pix[:ahashSize*ahashSize]
	var sum int
	for _, p := range pixels {
		sum += int(p)
	}
	avg := float64(sum) / float64(len(pixels))

	for i, p := range pixels {
		if float64(p) >= avg {
			h[i/64] |= 1 << (63 - uint(i%64))
		}
	}
	return h, true
}

func computeAHashBase64(pngBase64 string) (imageHash, bool) {
	raw, err := base64.StdEncoding.DecodeString(pngBase64)
	if err != nil {
		return imageHash{}, false
	}
	return computeAHash(raw)
}

func hammingDistance(a, b imageHash) int {
	dist := 0
	for i := range a {
		dist += bits.OnesCount64(a[i] ^ b[i])
	}
	return dist
}

// hashSimilarity maps hamming distance onto [0,1]: 1 is identical, 0 is
// every bit different.
func hashSimilarity(a, b imageHash) float64 {
	const maxBits = ahashSize * ahashSize
	return 1.0 - float64(hammingDistance(a, b))/maxBits
}

// hashCheckpoints hashes each reference screenshot, skipping any that
// cannot be decoded.
func hashCheckpoints(checkpoints []plan.Checkpoint) []checkpointHash {
	var hashes []checkpointHash
	for _, cp := range checkpoints {
		h, ok := computeAHashBase64(cp.PNGBase64)
		if !ok {
			continue
		}
		hashes = append(hashes, checkpointHash{label: cp.Label, hash: h})
	}
	return hashes
}

// bestMatch returns the highest similarity between the screenshot and the
// step's cached checkpoint hashes, with the matching checkpoint's label.
func bestMatch(screenshotPNG []byte, hashes []checkpointHash) (float64, string) {
	if len(hashes) == 0 {
		return 0, ""
	}
	h, ok := computeAHash(screenshotPNG)
	if !ok {
		return 0, ""
	}
	bestScore, bestLabel := 0.0, ""
	for _, cp := range hashes {
		if score := hashSimilarity(h, cp.hash); score > bestScore {
			bestScore, bestLabel = score, cp.label
		}
	}
	return bestScore, bestLabel
}
