// Package audiowm implements the audio DCT/QIM watermark embedder (ADE):
// quantization-index modulation of mid-band DCT coefficients inside
// non-overlapping PCM blocks, framed with the shared wmframe sync protocol.
// Grounded on original_source's audio_watermark.py.
package audiowm

import (
	"errors"
	"fmt"
	"math"

	"github.com/aquaseal/watermark-engine/backend/internal/wmframe"
	"github.com/aquaseal/watermark-engine/backend/models"
)

// Params configures ADE's block size and QIM step scale.
type Params struct {
	BlockSize int
	Alpha     float64
}

// DefaultParams matches the Python reference's defaults.
var DefaultParams = Params{BlockSize: 1024, Alpha: 0.05}

// fallbackParams are tried, in order, after DefaultParams/the caller's
// configured params fail to yield a verifiable frame. Mirrors the adaptive
// extraction parameter sweep in audio_watermark.py.
var fallbackParams = []Params{
	{1024, 0.05},
	{1024, 0.03},
	{1024, 0.07},
	{512, 0.05},
	{2048, 0.05},
}

func coefRange(blockSize int) (start, end int) {
	start = 8
	end = blockSize / 2
	if end > 24 {
		end = 24
	}
	if end < start {
		end = start
	}
	return
}

// Embed frames payload with wmframe.BuildFrameBits and writes the frame bits
// into samples using QIM on mid-band DCT coefficients of non-overlapping
// blocks. Only whole blocks carry bits; a trailing partial block is left
// unmodified and does not count toward capacity.
func Embed(samples []int16, params Params, payload []byte) ([]int16, error) {
	bits, err := wmframe.BuildFrameBits(payload)
	if err != nil {
		return nil, err
	}

	start, end := coefRange(params.BlockSize)
	coefsPerBlock := end - start
	numBlocks := len(samples) / params.BlockSize
	capacity := numBlocks * coefsPerBlock
	if capacity < len(bits) {
		return nil, fmt.Errorf("%w: need %d bits, have capacity for %d", models.ErrAudioTooShort, len(bits), capacity)
	}

	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s)
	}

	bitIdx := 0
	for b := 0; b < numBlocks && bitIdx < len(bits); b++ {
		blockStart := b * params.BlockSize
		block := make([]float64, params.BlockSize)
		copy(block, out[blockStart:blockStart+params.BlockSize])
		coefs := dctII(block)

		for c := start; c < end && bitIdx < len(bits); c++ {
			coefs[c] = quantizeEmbed(coefs[c], params.Alpha, bits[bitIdx])
			bitIdx++
		}

		decoded := dctIII(coefs)
		copy(out[blockStart:blockStart+params.BlockSize], decoded)
	}

	return peakNormalize(out), nil
}

func quantizeEmbed(coef, alpha float64, bit byte) float64 {
	delta := math.Max(alpha*math.Abs(coef), alpha*0.001)
	sign := 1.0
	if coef < 0 {
		sign = -1.0
	}
	q := math.Floor(math.Abs(coef) / delta)
	if bit == 1 {
		return sign * delta * (q + 0.5)
	}
	return sign * delta * q
}

func quantizeDecodeBit(coef, alpha float64) byte {
	delta := math.Max(alpha*math.Abs(coef), alpha*0.001)
	frac := math.Mod(math.Abs(coef)/delta, 1.0)
	if frac > 0.25 && frac < 0.75 {
		return 1
	}
	return 0
}

// peakNormalize scales samples down if any exceed int16 range, so that the
// peak lands at 0.95 of int16 full scale, then rounds and clamps to int16.
func peakNormalize(out []float64) []int16 {
	peak := 0.0
	for _, v := range out {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	scale := 1.0
	if peak > 32767 {
		scale = 0.95 * 32767 / peak
	}
	res := make([]int16, len(out))
	for i, v := range out {
		v *= scale
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		res[i] = int16(math.Round(v))
	}
	return res
}

// decodeBits extracts up to maxBits candidate bits from samples using the
// given block/alpha parameters.
func decodeBits(samples []int16, params Params, maxBits int) []byte {
	start, end := coefRange(params.BlockSize)
	coefsPerBlock := end - start
	numBlocks := len(samples) / params.BlockSize

	bits := make([]byte, 0, maxBits)
	for b := 0; b < numBlocks && len(bits) < maxBits; b++ {
		blockStart := b * params.BlockSize
		block := make([]float64, params.BlockSize)
		for i := 0; i < params.BlockSize; i++ {
			block[i] = float64(samples[blockStart+i])
		}
		coefs := dctII(block)
		for c := start; c < end && len(bits) < maxBits; c++ {
			bits = append(bits, quantizeDecodeBit(coefs[c], params.Alpha))
		}
	}
	_ = coefsPerBlock
	return bits
}

// Extract recovers the framed payload from samples, sweeping parameter
// combinations and sync positions the way the adaptive extractor in
// audio_watermark.py does: try the caller's configured params first, then a
// fixed fallback list; for each, search for the sync pattern at >=65% match
// within the first 2000 candidate bits (best matches first), try decoding a
// frame at each candidate, and fall back to a brute-force 8-bit-aligned scan
// if no sync-anchored frame verifies.
func Extract(samples []int16, configured Params) ([]byte, error) {
	tryList := append([]Params{configured}, fallbackParams...)

	var errs []error
	for _, params := range tryList {
		if params.BlockSize <= 0 || len(samples) < params.BlockSize {
			continue
		}
		start, end := coefRange(params.BlockSize)
		coefsPerBlock := end - start
		numBlocks := len(samples) / params.BlockSize
		maxBits := int(math.Max(2000, float64(numBlocks*coefsPerBlock)*1.2))

		bits := decodeBits(samples, params, maxBits)
		if len(bits) < 16 {
			errs = append(errs, fmt.Errorf("block=%d alpha=%.3f: too few candidate bits", params.BlockSize, params.Alpha))
			continue
		}

		window := len(bits)
		if window > 2000 {
			window = 2000
		}
		positions := wmframe.FindSync(bits, window, 0.65)

		found := false
		var data []byte
		for _, pos := range positions {
			if d, err := wmframe.DecodeFrameAt(bits, pos); err == nil {
				data = d
				found = true
				break
			}
		}
		if !found {
			bruteLimit := 500
			if bruteLimit > len(bits)-100 {
				bruteLimit = len(bits) - 100
			}
			if bruteLimit > 0 {
				if d, err := wmframe.BruteForceDecode(bits, bruteLimit); err == nil {
					data = d
					found = true
				}
			}
		}

		if found {
			return data, nil
		}
		errs = append(errs, fmt.Errorf("block=%d alpha=%.3f: no verifiable frame", params.BlockSize, params.Alpha))
	}

	if len(errs) > 3 {
		errs = errs[:3]
	}
	return nil, fmt.Errorf("%w: %s", models.ErrNoWatermarkFound, errors.Join(errs...))
}
