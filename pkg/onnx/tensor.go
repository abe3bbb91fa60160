package onnx

import (
	"image"
	"math"
	"sort"
	"strconv"

	"github.com/nfnt/resize"

	"github.com/menta2k/breed-camera/pkg/prediction"
)

// Preprocess resizes img to size x size and lays it out as planar RGB
// (CHW) floats, scaled to [0,1] and then normalized by mean and std when given
func Preprocess(img image.Image, size int, mean, std []float32) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	data := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := y*width + x
			data[i] = float32(r) / 65535.0
			data[plane+i] = float32(g) / 65535.0
			data[2*plane+i] = float32(b) / 65535.0
		}
	}

	if len(mean) == 3 || len(std) == 3 {
		for c := 0; c < 3; c++ {
			m, s := float32(0), float32(1)
			if len(mean) == 3 {
				m = mean[c]
			}
			if len(std) == 3 {
				s = std[c]
			}
			ch := data[c*plane : (c+1)*plane]
			for i := range ch {
				ch[i] = (ch[i] - m) / s
			}
		}
	}
	return data
}

// Softmax turns logits into probabilities
func Softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// TopK returns the k best class indices as wire entries, highest first.
// Scores below minConfidence are dropped.
func TopK(scores []float32, k int, minConfidence float64) []prediction.Entry {
	idx := make([]int, 0, len(scores))
	for i, s := range scores {
		v := float64(s)
		if math.IsNaN(v) || v < minConfidence {
			continue
		}
		idx = append(idx, i)
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	if k > 0 && len(idx) > k {
		idx = idx[:k]
	}

	entries := make([]prediction.Entry, 0, len(idx))
	for _, i := range idx {
		conf := math.Min(math.Max(float64(scores[i]), 0), 1)
		entries = append(entries, prediction.Entry{Code: strconv.Itoa(i), Confidence: conf})
	}
	return entries
}
