// Package engine implements the orchestrator (component I): it wires the
// hashing, payload, and per-format embedder components together into the
// public Embed/Extract/Verify/HashPayload API, applying the layer plans and
// probe orders SPEC_FULL §4.I specifies. Engine is an eager, plain value —
// no lazy singleton construction, no interface-based DI layer — per
// SPEC_FULL §9's redesign note.
package engine

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log"
	"strings"
	"time"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/aquaseal/watermark-engine/backend/config"
	"github.com/aquaseal/watermark-engine/backend/internal/audiowm"
	"github.com/aquaseal/watermark-engine/backend/internal/containermeta"
	"github.com/aquaseal/watermark-engine/backend/internal/hashutil"
	"github.com/aquaseal/watermark-engine/backend/internal/imagewm"
	"github.com/aquaseal/watermark-engine/backend/internal/mp3tag"
	"github.com/aquaseal/watermark-engine/backend/internal/payloadcodec"
	"github.com/aquaseal/watermark-engine/backend/internal/pdfwm"
	"github.com/aquaseal/watermark-engine/backend/models"
	"github.com/aquaseal/watermark-engine/backend/registry"
)

// FileType enumerates the three media families the engine supports.
const (
	FileTypeImage = "image"
	FileTypeAudio = "audio"
	FileTypePDF   = "pdf"
)

// Engine owns all codec instances and settings needed to embed/extract
// watermarks. It is cheap to construct and holds no mutable shared state
// beyond the registry client.
type Engine struct {
	Settings config.Settings
	Registry registry.Client
}

// New builds an Engine. Construction is eager: every embedder this engine
// can call is a stateless function, so there is nothing to lazily
// initialize.
func New(settings config.Settings, reg registry.Client) Engine {
	return Engine{Settings: settings, Registry: reg}
}

// HashPayload returns the watermark hash for a payload record.
func (e Engine) HashPayload(p models.Payload) string {
	return payloadcodec.WatermarkHash(p)
}

// Embed runs the layer plan for fileType/ext against src, returning the
// watermarked bytes and the watermark hash that was embedded.
func (e Engine) Embed(src io.ReadSeeker, fileType, ext, userID string, metadata map[string]string, license string) ([]byte, string, error) {
	contentHash, err := hashutil.HashFile(src)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", models.ErrFileValidation, err)
	}

	payload := models.Payload{
		UserID:       userID,
		Timestamp:    time.Now().Unix(),
		MetadataHash: payloadcodec.CanonicalMetadataHash(metadata),
		ContentHash:  contentHash,
		License:      license,
	}
	watermarkHash := payloadcodec.WatermarkHash(payload)
	payloadBytes := payloadcodec.Encode(payload)

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, "", fmt.Errorf("%w: %v", models.ErrFileValidation, err)
	}
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", models.ErrFileValidation, err)
	}
	src.Seek(0, io.SeekStart)

	ext = strings.ToLower(ext)
	var out []byte
	switch fileType {
	case FileTypeImage:
		out, err = e.embedImage(raw, ext, payloadBytes)
	case FileTypeAudio:
		out, err = e.embedAudio(raw, ext, payloadBytes, watermarkHash)
	case FileTypePDF:
		out, err = pdfwm.Embed(raw, payloadBytes)
	default:
		err = fmt.Errorf("%w: unrecognized file type %q", models.ErrFormatUnsupported, fileType)
	}
	if err != nil {
		return nil, "", err
	}
	return out, watermarkHash, nil
}

// embedImage applies the image layer plan: IFE, then — when redundancy is
// configured and the output can stay losslessly PNG-encoded — ILE, then
// CME. Each layer's output feeds the next; a layer failing is non-fatal
// unless every layer fails, in which case NoEmbedderAvailable is returned.
func (e Engine) embedImage(raw []byte, ext string, payload []byte) ([]byte, error) {
	img, err := decodeImage(raw, ext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFormatUnsupported, err)
	}

	var produced bool
	current := raw

	if wmImg, err := imagewm.EmbedIFE(img, "", payload); err == nil {
		if encoded, encErr := encodeImage(wmImg, ext); encErr == nil {
			current = encoded
			produced = true
			img = wmImg
		} else {
			log.Printf("[WARN] engine: IFE succeeded but re-encoding failed: %v", encErr)
		}
	} else {
		log.Printf("[WARN] engine: IFE layer skipped: %v", err)
	}

	if e.Settings.RedundantWatermarks > 1 && ext == ".png" {
		if nrgba, ok := img.(*image.NRGBA); ok {
			if wmImg, err := imagewm.EmbedILE(nrgba, payload); err == nil {
				if encoded, encErr := encodePNG(wmImg); encErr == nil {
					current = encoded
					produced = true
					img = wmImg
				}
			} else {
				log.Printf("[WARN] engine: ILE layer skipped: %v", err)
			}
		}
	}

	if cmeOut, err := e.embedCME(current, ext, payload); err == nil {
		current = cmeOut
		produced = true
	} else {
		log.Printf("[WARN] engine: CME layer skipped: %v", err)
	}

	if !produced {
		return nil, fmt.Errorf("%w: no image embedder produced output", models.ErrNoEmbedderAvailable)
	}
	return current, nil
}

func (e Engine) embedCME(data []byte, ext string, payload []byte) ([]byte, error) {
	switch ext {
	case ".jpg", ".jpeg":
		return containermeta.EmbedJPEG(data, payload)
	case ".png":
		return containermeta.EmbedPNG(data, payload)
	case ".tif", ".tiff":
		return containermeta.EmbedTIFF(data, payload)
	default:
		return nil, fmt.Errorf("%w: CME has no writer for %q", models.ErrFormatUnsupported, ext)
	}
}

// embedAudio dispatches .mp3 to MTE and every other audio extension to ADE
// (decoded as WAV), folding the watermark hash in as an MD5 personalization
// prefix per the legacy, deprecated-but-reachable non-MP3 path.
func (e Engine) embedAudio(raw []byte, ext string, payload []byte, watermarkHash string) ([]byte, error) {
	if ext == ".mp3" {
		return mp3tag.Embed(raw, payload)
	}

	samples, sampleRate, err := audiowm.DecodeWAV(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFormatUnsupported, err)
	}

	params := audiowm.Params{BlockSize: 1024, Alpha: e.Settings.WatermarkStrength}
	if params.Alpha <= 0 {
		params.Alpha = audiowm.DefaultParams.Alpha
	}

	framedPayload := personalize(payload, watermarkHash)
	out, err := audiowm.Embed(samples, params, framedPayload)
	if err != nil {
		return nil, err
	}
	return audiowm.EncodeWAV(out, sampleRate), nil
}

// personalize folds an 8-byte MD5 prefix of the personalization hash into
// the data before framing, matching the legacy non-MP3 personalization
// scheme: the sync magic itself is never personalized, only this data
// prefix is.
func personalize(payload []byte, personalizationHash string) []byte {
	if personalizationHash == "" {
		return payload
	}
	sum := md5.Sum([]byte(personalizationHash))
	prefix, err := decodeHexPrefix(hex.EncodeToString(sum[:]), 8)
	if err != nil {
		return payload
	}
	out := make([]byte, 0, len(prefix)+len(payload))
	out = append(out, prefix...)
	out = append(out, payload...)
	return out
}

func decodeHexPrefix(hexStr string, n int) ([]byte, error) {
	if len(hexStr) < n*2 {
		return nil, fmt.Errorf("hash too short")
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		var b byte
		_, err := fmt.Sscanf(hexStr[i*2:i*2+2], "%02x", &b)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// Extract runs the extract probe order for fileType/ext against src and
// returns the first recovered payload. personalizationHash is only
// consulted for non-MP3 audio.
func (e Engine) Extract(src io.ReadSeeker, fileType, ext string, personalizationHash *string) ([]byte, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFileValidation, err)
	}
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFileValidation, err)
	}
	src.Seek(0, io.SeekStart)

	ext = strings.ToLower(ext)
	switch fileType {
	case FileTypeImage:
		return e.extractImage(raw, ext)
	case FileTypeAudio:
		return e.extractAudio(raw, ext, personalizationHash)
	case FileTypePDF:
		return pdfwm.Extract(raw)
	default:
		return nil, fmt.Errorf("%w: unrecognized file type %q", models.ErrFormatUnsupported, fileType)
	}
}

// extractImage probes CME, then IFE, then ILE, returning the first success.
func (e Engine) extractImage(raw []byte, ext string) ([]byte, error) {
	var errs []error

	if data, err := e.extractCME(raw, ext); err == nil {
		return data, nil
	} else {
		errs = append(errs, err)
	}

	img, decErr := decodeImage(raw, ext)
	if decErr == nil {
		if data, err := imagewm.ExtractIFE(img, ""); err == nil {
			return data, nil
		} else {
			errs = append(errs, err)
		}
		if nrgba, ok := asNRGBA(img); ok {
			if data, err := imagewm.ExtractILE(nrgba); err == nil {
				return data, nil
			} else {
				errs = append(errs, err)
			}
		}
	} else {
		errs = append(errs, decErr)
	}

	return nil, fmt.Errorf("%w: %v", models.ErrNoWatermarkFound, errors.Join(errs...))
}

func (e Engine) extractCME(raw []byte, ext string) ([]byte, error) {
	switch ext {
	case ".jpg", ".jpeg":
		return containermeta.ExtractJPEG(raw)
	case ".png":
		return containermeta.ExtractPNG(raw)
	case ".tif", ".tiff":
		return containermeta.ExtractTIFF(raw)
	default:
		return nil, fmt.Errorf("%w: CME has no reader for %q", models.ErrFormatUnsupported, ext)
	}
}

// extractAudio probes MTE for .mp3, or ADE for everything else, trying the
// caller-supplied personalization hash, then no personalization (which
// covers both the absent and the empty-string case), then the two legacy
// sentinel hashes ("0"*64 and "f"*64), in that order.
func (e Engine) extractAudio(raw []byte, ext string, personalizationHash *string) ([]byte, error) {
	if ext == ".mp3" {
		return mp3tag.Extract(raw)
	}

	samples, _, err := audiowm.DecodeWAV(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFormatUnsupported, err)
	}

	var candidates []string
	if personalizationHash != nil {
		candidates = append(candidates, *personalizationHash)
	}
	candidates = append(candidates, "", strings.Repeat("0", 64), strings.Repeat("f", 64))

	params := audiowm.Params{BlockSize: 1024, Alpha: e.Settings.WatermarkStrength}
	if params.Alpha <= 0 {
		params.Alpha = audiowm.DefaultParams.Alpha
	}

	raw, err = audiowm.Extract(samples, params)
	if err != nil {
		return nil, err
	}

	// The frame itself decodes independently of personalization. The empty
	// candidate keeps the data whole; every non-empty candidate strips the
	// 8-byte prefix without comparing it to that candidate's digest. The
	// first result that decodes as a payload record is returned.
	var errs []error
	for _, hash := range candidates {
		candidate := depersonalize(raw, hash)
		if _, err := payloadcodec.Decode(candidate); err == nil {
			return candidate, nil
		} else {
			errs = append(errs, err)
		}
	}
	if len(errs) > 3 {
		errs = errs[:3]
	}
	return nil, fmt.Errorf("%w: %v", models.ErrNoWatermarkFound, errors.Join(errs...))
}

// depersonalize strips the 8-byte MD5 personalization prefix folded in by
// personalize, when the given hash is non-empty.
func depersonalize(data []byte, personalizationHash string) []byte {
	if personalizationHash == "" || len(data) < 8 {
		return data
	}
	return data[8:]
}

// Verify extracts a watermark from src and checks it against the registry.
func (e Engine) Verify(ctx context.Context, src io.ReadSeeker, fileType, ext string) (models.VerifyResult, error) {
	payloadBytes, err := e.Extract(src, fileType, ext, nil)
	if err != nil {
		return models.VerifyResult{
			Verified:       false,
			WatermarkFound: false,
			Message:        "no watermark could be extracted",
		}, nil
	}

	payload, err := payloadcodec.Decode(payloadBytes)
	if err != nil {
		return models.VerifyResult{
			Verified:       false,
			WatermarkFound: true,
			Message:        "extracted data did not decode to a valid payload",
		}, nil
	}

	hash := payloadcodec.WatermarkHash(payload)
	regResult, err := e.Registry.VerifyHash(ctx, hash)
	if err != nil {
		return models.VerifyResult{}, fmt.Errorf("%w: %v", models.ErrRegistryFailure, err)
	}

	return models.VerifyResult{
		Verified:       regResult.Exists,
		WatermarkFound: true,
		WatermarkHash:  hash,
		Match:          regResult.Exists,
		RegistryData:   regResult.Metadata,
		Payload:        &payload,
		Message:        verifyMessage(regResult),
	}, nil
}

func verifyMessage(r registry.VerifyResult) string {
	if r.MockMode {
		return "watermark extracted; registry running in mock mode"
	}
	if r.Exists {
		return "watermark verified against registry"
	}
	return "watermark extracted but not found in registry"
}

func asNRGBA(img image.Image) (*image.NRGBA, bool) {
	if n, ok := img.(*image.NRGBA); ok {
		return n, true
	}
	bounds := img.Bounds()
	out := image.NewNRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out, true
}

func decodeImage(raw []byte, ext string) (image.Image, error) {
	switch ext {
	case ".jpg", ".jpeg":
		return jpeg.Decode(bytes.NewReader(raw))
	case ".png":
		return png.Decode(bytes.NewReader(raw))
	case ".bmp":
		return bmp.Decode(bytes.NewReader(raw))
	case ".tif", ".tiff":
		return tiff.Decode(bytes.NewReader(raw))
	default:
		return nil, fmt.Errorf("unsupported image extension %q", ext)
	}
}

func encodeImage(img image.Image, ext string) ([]byte, error) {
	switch ext {
	case ".jpg", ".jpeg":
		buf := &bytes.Buffer{}
		if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: 95}); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case ".png":
		return encodePNG(img)
	case ".bmp":
		buf := &bytes.Buffer{}
		if err := bmp.Encode(buf, img); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case ".tif", ".tiff":
		buf := &bytes.Buffer{}
		if err := tiff.Encode(buf, img, nil); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported image extension %q", ext)
	}
}

func encodePNG(img image.Image) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
