// Package quality rejects unusable photographs before any OCR provider
// is paid for an attempt. All checks run on a downscaled grayscale copy
// of the image and have no side effects beyond the returned verdict.
package quality

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	xdraw "golang.org/x/image/draw"
)

// FailureReason identifies one independent quality check that failed.
type FailureReason string

const (
	ReasonUnreadable FailureReason = "unreadable_image"
	ReasonBlur       FailureReason = "blur"
	ReasonBrightness FailureReason = "brightness"
	ReasonSkew       FailureReason = "skew"
)

// Config carries the gate thresholds. The qualitative semantics are
// fixed; the numbers are deployment configuration.
type Config struct {
	// MinSharpness is the minimum Laplacian variance; below it the image
	// counts as blurred.
	MinSharpness float64
	// MinBrightness and MaxBrightness bound the acceptable mean
	// luminance (0..255).
	MinBrightness float64
	MaxBrightness float64
	// MaxSkewDegrees is the largest tolerated rotation of the dominant
	// edge orientation away from the axes.
	MaxSkewDegrees float64
}

// Verdict is the outcome of evaluating one image.
type Verdict struct {
	Pass    bool
	Reasons []FailureReason

	Sharpness   float64
	Brightness  float64
	SkewDegrees float64
}

// Gate evaluates images against a fixed Config. Safe for concurrent use.
type Gate struct {
	cfg Config
}

func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// analysisWidth bounds the working copy; metrics are stable well below
// typical photo resolutions and the downscale keeps evaluation cheap.
const analysisWidth = 640

// EvaluateBytes decodes the image and evaluates it. Undecodable input is
// a quality failure, not an error: the caller owes the submitter a
// better photo either way.
func (g *Gate) EvaluateBytes(data []byte) Verdict {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Verdict{Pass: false, Reasons: []FailureReason{ReasonUnreadable}}
	}
	return g.Evaluate(img)
}

// Evaluate runs the blur, brightness and skew checks. Each check is
// independently pass/fail and every failed reason is reported.
func (g *Gate) Evaluate(img image.Image) Verdict {
	gray := toGray(img)

	v := Verdict{
		Sharpness:   laplacianVariance(gray),
		Brightness:  meanLuminance(gray),
		SkewDegrees: dominantSkew(gray),
	}

	if v.Sharpness < g.cfg.MinSharpness {
		v.Reasons = append(v.Reasons, ReasonBlur)
	}
	if v.Brightness < g.cfg.MinBrightness || v.Brightness > g.cfg.MaxBrightness {
		v.Reasons = append(v.Reasons, ReasonBrightness)
	}
	if v.SkewDegrees > g.cfg.MaxSkewDegrees {
		v.Reasons = append(v.Reasons, ReasonSkew)
	}

	v.Pass = len(v.Reasons) == 0
	return v
}

func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > analysisWidth {
		h = h * analysisWidth / w
		w = analysisWidth
	}
	if h < 1 {
		h = 1
	}
	gray := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(gray, gray.Bounds(), img, b, xdraw.Src, nil)
	return gray
}

func meanLuminance(g *image.Gray) float64 {
	b := g.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0
	}
	sum := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[(y-b.Min.Y)*g.Stride : (y-b.Min.Y)*g.Stride+b.Dx()]
		for _, p := range row {
			sum += int(p)
		}
	}
	return float64(sum) / float64(n)
}

// laplacianVariance is the classic focus measure: variance of the
// 4-neighbor Laplacian response. Flat, defocused images score near zero.
func laplacianVariance(g *image.Gray) float64 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}
	at := func(x, y int) float64 {
		return float64(g.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
	}
	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			lap := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

// dominantSkew estimates document rotation from the orientation of
// strong Sobel gradients, folded to the deviation from the nearest axis.
// Returns the magnitude-weighted mean deviation in degrees.
func dominantSkew(g *image.Gray) float64 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}
	at := func(x, y int) float64 {
		return float64(g.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
	}

	// Only gradients well above the noise floor vote.
	const magnitudeFloor = 96.0

	var weighted, weights float64
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1)
			gy := at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1)
			mag := math.Hypot(gx, gy)
			if mag < magnitudeFloor {
				continue
			}
			deg := math.Abs(math.Atan2(gy, gx) * 180 / math.Pi)
			// Fold to deviation from the nearest 0/90/180 axis.
			dev := math.Mod(deg, 90)
			if dev > 45 {
				dev = 90 - dev
			}
			weighted += dev * mag
			weights += mag
		}
	}
	if weights == 0 {
		return 0
	}
	return weighted / weights
}
