// Package imagewm implements the two image watermark embedders: the
// frequency-domain embedder (IFE, this file) and the PNG LSB embedder
// (ILE, ile.go).
package imagewm

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/aquaseal/watermark-engine/backend/internal/wmframe"
	"github.com/aquaseal/watermark-engine/backend/models"
)

const (
	blockDim = 8
	midRow   = 3
	midCol   = 4
	ifeAlpha = 0.08
)

// passwordSeed derives a deterministic int64 seed from an arbitrary
// password string, the same SHA-256-seeded math/rand idiom this codebase
// uses elsewhere for reproducible pseudorandom selection.
func passwordSeed(password string) int64 {
	sum := sha256.Sum256([]byte(password))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// blockOrder returns the raster-order list of 8x8 block coordinates,
// shuffled deterministically by password, for an image with the given
// pixel dimensions.
func blockOrder(width, height int, password string) [][2]int {
	bw, bh := width/blockDim, height/blockDim
	blocks := make([][2]int, 0, bw*bh)
	for by := 0; by < bh; by++ {
		for bx := 0; bx < bw; bx++ {
			blocks = append(blocks, [2]int{bx, by})
		}
	}
	r := rand.New(rand.NewSource(passwordSeed(password)))
	r.Shuffle(len(blocks), func(i, j int) { blocks[i], blocks[j] = blocks[j], blocks[i] })
	return blocks
}

func dct1D(x []float64) []float64 {
	n := len(x)
	out := make([]float64, n)
	a0 := math.Sqrt(1.0 / float64(n))
	ak := math.Sqrt(2.0 / float64(n))
	for k := 0; k < n; k++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += x[i] * math.Cos(math.Pi/float64(n)*(float64(i)+0.5)*float64(k))
		}
		if k == 0 {
			out[k] = sum * a0
		} else {
			out[k] = sum * ak
		}
	}
	return out
}

func idct1D(x []float64) []float64 {
	n := len(x)
	out := make([]float64, n)
	a0 := math.Sqrt(1.0 / float64(n))
	ak := math.Sqrt(2.0 / float64(n))
	for i := 0; i < n; i++ {
		sum := x[0] * a0
		for k := 1; k < n; k++ {
			sum += x[k] * ak * math.Cos(math.Pi/float64(n)*(float64(i)+0.5)*float64(k))
		}
		out[i] = sum
	}
	return out
}

func dct2D(block [blockDim][blockDim]float64) [blockDim][blockDim]float64 {
	var tmp, out [blockDim][blockDim]float64
	for r := 0; r < blockDim; r++ {
		row := dct1D(block[r][:])
		copy(tmp[r][:], row)
	}
	for c := 0; c < blockDim; c++ {
		col := make([]float64, blockDim)
		for r := 0; r < blockDim; r++ {
			col[r] = tmp[r][c]
		}
		col = dct1D(col)
		for r := 0; r < blockDim; r++ {
			out[r][c] = col[r]
		}
	}
	return out
}

func idct2D(block [blockDim][blockDim]float64) [blockDim][blockDim]float64 {
	var tmp, out [blockDim][blockDim]float64
	for c := 0; c < blockDim; c++ {
		col := make([]float64, blockDim)
		for r := 0; r < blockDim; r++ {
			col[r] = block[r][c]
		}
		col = idct1D(col)
		for r := 0; r < blockDim; r++ {
			tmp[r][c] = col[r]
		}
	}
	for r := 0; r < blockDim; r++ {
		out[r] = [blockDim]float64{}
		row := idct1D(tmp[r][:])
		copy(out[r][:], row)
	}
	return out
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
	if frac >= 0.25 && frac < 0.75 {
		return 1
	}
	return 0
}

func luminance(c color.Color) float64 {
	r, g, b, _ := c.RGBA()
	return 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
}

// EmbedIFE modulates one mid-band DCT coefficient per 8x8 luminance block,
// in password-seeded block order, to carry payload framed via wmframe.
func EmbedIFE(img image.Image, password string, payload []byte) (*image.NRGBA, error) {
	bits, err := wmframe.BuildFrameBits(payload)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := image.NewNRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}

	order := blockOrder(w, h, password)
	if len(order) < len(bits) {
		return nil, fmt.Errorf("%w: image too small to carry %d bits in %d blocks", models.ErrFormatUnsupported, len(bits), len(order))
	}

	for i, bit := range bits {
		bx, by := order[i][0], order[i][1]
		x0, y0 := bx*blockDim, by*blockDim

		var block [blockDim][blockDim]float64
		for dy := 0; dy < blockDim; dy++ {
			for dx := 0; dx < blockDim; dx++ {
				block[dy][dx] = luminance(img.At(bounds.Min.X+x0+dx, bounds.Min.Y+y0+dy))
			}
		}
		coefs := dct2D(block)
		coefs[midRow][midCol] = quantizeEmbed(coefs[midRow][midCol], ifeAlpha, bit)
		spatial := idct2D(coefs)

		for dy := 0; dy < blockDim; dy++ {
			for dx := 0; dx < blockDim; dx++ {
				orig := img.At(bounds.Min.X+x0+dx, bounds.Min.Y+y0+dy)
				r, g, b, a := orig.RGBA()
				oldY := block[dy][dx]
				newY := spatial[dy][dx]
				delta := newY - oldY
				nr := clamp8(float64(r>>8) + delta)
				ng := clamp8(float64(g>>8) + delta)
				nb := clamp8(float64(b>>8) + delta)
				out.Set(bounds.Min.X+x0+dx, bounds.Min.Y+y0+dy, color.NRGBA{R: nr, G: ng, B: nb, A: uint8(a >> 8)})
			}
		}
	}

	return out, nil
}

func clamp8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// ExtractIFE reverses EmbedIFE: it rebuilds the password-seeded block order,
// recovers one candidate bit per block from the mid-band coefficient, and
// looks for a verifiable frame within the resulting bit stream.
func ExtractIFE(img image.Image, password string) ([]byte, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	order := blockOrder(w, h, password)

	bits := make([]byte, 0, len(order))
	for _, b := range order {
		bx, by := b[0], b[1]
		x0, y0 := bx*blockDim, by*blockDim

		var block [blockDim][blockDim]float64
		for dy := 0; dy < blockDim; dy++ {
			for dx := 0; dx < blockDim; dx++ {
				block[dy][dx] = luminance(img.At(bounds.Min.X+x0+dx, bounds.Min.Y+y0+dy))
			}
		}
		coefs := dct2D(block)
		bits = append(bits, quantizeDecodeBit(coefs[midRow][midCol], ifeAlpha))
	}

	window := len(bits)
	if window > 2000 {
		window = 2000
	}
	positions := wmframe.FindSync(bits, window, 0.65)
	for _, pos := range positions {
		if data, err := wmframe.DecodeFrameAt(bits, pos); err == nil {
			return data, nil
		}
	}
	bruteLimit := 500
	if bruteLimit > len(bits)-100 {
		bruteLimit = len(bits) - 100
	}
	if bruteLimit > 0 {
		if data, err := wmframe.BruteForceDecode(bits, bruteLimit); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("%w: no verifiable frame in image DCT coefficients", models.ErrNoWatermarkFound)
}
