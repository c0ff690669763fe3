package containermeta

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"image"

	"golang.org/x/image/tiff"

	"github.com/aquaseal/watermark-engine/backend/models"
)

// Flat IFD0-style EXIF tags, matching PIL's Image.getexif() dict shape (the
// original implementation's approach) rather than a nested Exif sub-IFD.
const (
	tagImageDescription = 270
	tagUserComment       = 37510
)

const (
	jpegDescriptionMaxChars = 500
	jpegCommentMaxChars     = 2000
)

// --- JPEG -------------------------------------------------------------

// EmbedJPEG writes a flat IFD0 carrying ImageDescription ("WM:" prefix,
// truncated to 500 base64 characters) and UserComment (truncated to 2000
// base64 characters), merged on top of whatever IFD0 tags the source file's
// own APP1 Exif segment already carries. The merged segment replaces the
// original one in place rather than sitting alongside it, so there is only
// ever one Exif segment for a reader to find, and it carries every tag the
// source had plus the watermark tags.
func EmbedJPEG(data []byte, payload []byte) ([]byte, error) {
	if len(data) < 4 || data[0] != 0xff || data[1] != 0xd8 {
		return nil, fmt.Errorf("%w: not a JPEG file", models.ErrFormatUnsupported)
	}

	b64 := base64.StdEncoding.EncodeToString(payload)
	desc := "WM:" + truncate(b64, jpegDescriptionMaxChars)
	comment := truncate(b64, jpegCommentMaxChars)

	tags := map[int]string{}
	markerStart, segEnd, found := locateJPEGExifSegment(data)
	if found {
		if existing, err := parseFlatIFD0(data[markerStart+4+6 : segEnd]); err == nil {
			for t, v := range existing {
				tags[t] = v
			}
		}
	}
	tags[tagImageDescription] = desc
	tags[tagUserComment] = comment

	segment := buildExifAPP1(buildFlatIFD0(tags))

	out := make([]byte, 0, len(data)+len(segment))
	if found {
		out = append(out, data[:markerStart]...)
		out = append(out, segment...)
		out = append(out, data[segEnd:]...)
	} else {
		out = append(out, data[:2]...) // SOI
		out = append(out, segment...)
		out = append(out, data[2:]...)
	}
	return out, nil
}

// ExtractJPEG locates the first APP1 "Exif\0\0" segment, parses its flat
// IFD0, and returns the UserComment tag (preferring it over
// ImageDescription, which may have been truncated further and carries a
// "WM:" prefix).
func ExtractJPEG(data []byte) ([]byte, error) {
	tags, err := findAndParseJPEGExif(data)
	if err != nil {
		return nil, err
	}

	if v, ok := tags[tagUserComment]; ok {
		if payload, err := base64.StdEncoding.DecodeString(v); err == nil {
			return payload, nil
		}
	}
	if v, ok := tags[tagImageDescription]; ok {
		trimmed := v
		if len(trimmed) >= 3 && trimmed[:3] == "WM:" {
			trimmed = trimmed[3:]
		}
		if payload, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
			return payload, nil
		}
	}
	return nil, fmt.Errorf("%w: no watermark tags in JPEG EXIF", models.ErrNoWatermarkFound)
}

func findAndParseJPEGExif(data []byte) (map[int]string, error) {
	if len(data) < 4 || data[0] != 0xff || data[1] != 0xd8 {
		return nil, fmt.Errorf("%w: not a JPEG file", models.ErrFormatUnsupported)
	}
	markerStart, segEnd, found := locateJPEGExifSegment(data)
	if !found {
		return nil, fmt.Errorf("%w: no EXIF segment found", models.ErrNoWatermarkFound)
	}
	tags, err := parseFlatIFD0(data[markerStart+4+6 : segEnd])
	if err != nil {
		return nil, fmt.Errorf("%w: no EXIF segment found", models.ErrNoWatermarkFound)
	}
	return tags, nil
}

// locateJPEGExifSegment scans the JPEG marker stream for the first APP1
// "Exif\0\0" segment and returns the byte range [markerStart, segEnd): the
// 0xFF marker byte through the end of the segment's payload, exclusive.
func locateJPEGExifSegment(data []byte) (markerStart, segEnd int, found bool) {
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xff {
			break
		}
		marker := data[pos+1]
		if marker == 0xd9 || marker == 0xda {
			break
		}
		segLen := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		segStart := pos + 4
		end := segStart + segLen - 2
		if end > len(data) {
			break
		}
		if marker == 0xe1 && end-segStart > 6 && bytes.Equal(data[segStart:segStart+6], []byte("Exif\x00\x00")) {
			return pos, end, true
		}
		pos = end
	}
	return 0, 0, false
}

// buildExifAPP1 wraps a TIFF-encoded flat IDF0 in an "Exif\0\0" APP1 JPEG
// marker segment.
func buildExifAPP1(tiffBytes []byte) []byte {
	body := append([]byte("Exif\x00\x00"), tiffBytes...)
	seg := make([]byte, 0, 4+len(body))
	seg = append(seg, 0xff, 0xe1)
	lenBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBytes, uint16(len(body)+2))
	seg = append(seg, lenBytes...)
	seg = append(seg, body...)
	return seg
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// --- Flat IFD0 TIFF encode/decode --------------------------------------

// buildFlatIFD0 encodes a minimal little-endian TIFF byte stream containing
// a single IFD0 with one ASCII entry per tag, in ascending tag order.
func buildFlatIFD0(tags map[int]string) []byte {
	type entry struct {
		tag   int
		value string
	}
	entries := make([]entry, 0, len(tags))
	for t, v := range tags {
		entries = append(entries, entry{t, v})
	}
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].tag < entries[j-1].tag; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}

	const headerLen = 8
	ifdOffset := uint32(headerLen)
	entryCount := len(entries)
	ifdLen := 2 + entryCount*12 + 4
	valuesStart := ifdOffset + uint32(ifdLen)

	buf := &bytes.Buffer{}
	buf.WriteString("II")
	binary.Write(buf, binary.LittleEndian, uint16(42))
	binary.Write(buf, binary.LittleEndian, ifdOffset)

	binary.Write(buf, binary.LittleEndian, uint16(entryCount))

	valueArea := &bytes.Buffer{}
	valueOffset := valuesStart
	for _, e := range entries {
		val := []byte(e.value)
		val = append(val, 0) // NUL-terminated ASCII, per TIFF type 2
		binary.Write(buf, binary.LittleEndian, uint16(e.tag))
		binary.Write(buf, binary.LittleEndian, uint16(2)) // type ASCII
		binary.Write(buf, binary.LittleEndian, uint32(len(val)))
		if len(val) <= 4 {
			padded := make([]byte, 4)
			copy(padded, val)
			buf.Write(padded)
		} else {
			binary.Write(buf, binary.LittleEndian, valueOffset)
			valueArea.Write(val)
			if len(val)%2 == 1 {
				valueArea.WriteByte(0)
			}
			valueOffset += uint32(len(val))
			if len(val)%2 == 1 {
				valueOffset++
			}
		}
	}
	binary.Write(buf, binary.LittleEndian, uint32(0)) // no next IFD

	buf.Write(valueArea.Bytes())
	return buf.Bytes()
}

// parseFlatIFD0 reads back the tag table built by buildFlatIFD0 (or any
// similarly flat TIFF IFD0) and returns its ASCII-valued entries.
func parseFlatIFD0(data []byte) (map[int]string, error) {
	entries, err := parseIFD0RawEntries(data)
	if err != nil {
		return nil, err
	}
	tags := map[int]string{}
	for _, e := range entries {
		if e.typ != 2 { // ASCII
			continue
		}
		s := string(e.value)
		if idx := bytes.IndexByte([]byte(s), 0); idx >= 0 {
			s = s[:idx]
		}
		tags[e.tag] = s
	}
	return tags, nil
}

// rawIFD0Entry is a single IFD0 tag with its value already converted to
// little-endian byte layout, ready to be written back by encodeBaselineTIFF
// regardless of the source file's own byte order.
type rawIFD0Entry struct {
	tag, typ int
	count    uint32
	value    []byte
}

// tiffTypeSize returns the per-element byte width of a TIFF field type.
func tiffTypeSize(typ uint16) int {
	switch typ {
	case 1, 2, 6, 7: // BYTE, ASCII, SBYTE, UNDEFINED
		return 1
	case 3, 8: // SHORT, SSHORT
		return 2
	case 4, 9, 11: // LONG, SLONG, FLOAT
		return 4
	case 5, 10, 12: // RATIONAL, SRATIONAL, DOUBLE
		return 8
	default:
		return 1
	}
}

// swapToLittleEndian reverses each elemSize-byte group of raw in place when
// it was read out of a big-endian ("MM") TIFF, so the caller can always treat
// entry values as little-endian regardless of source byte order.
func swapToLittleEndian(raw []byte, elemSize int, from binary.ByteOrder) []byte {
	if from == binary.LittleEndian || elemSize <= 1 || len(raw) == 0 {
		return raw
	}
	out := make([]byte, len(raw))
	for i := 0; i+elemSize <= len(raw); i += elemSize {
		for j := 0; j < elemSize; j++ {
			out[i+j] = raw[i+elemSize-1-j]
		}
	}
	return out
}

// parseIFD0RawEntries reads every IFD0 entry of a TIFF byte stream (standalone
// or the body of a JPEG APP1 Exif segment), regardless of field type, with
// values normalized to little-endian so they can be written back unchanged.
func parseIFD0RawEntries(data []byte) ([]rawIFD0Entry, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("tiff: truncated header")
	}
	var order binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("tiff: bad byte order marker")
	}
	ifdOffset := order.Uint32(data[4:8])
	if int(ifdOffset)+2 > len(data) {
		return nil, fmt.Errorf("tiff: IFD offset out of range")
	}
	count := int(order.Uint16(data[ifdOffset : ifdOffset+2]))
	pos := int(ifdOffset) + 2
	entries := make([]rawIFD0Entry, 0, count)
	for i := 0; i < count; i++ {
		if pos+12 > len(data) {
			break
		}
		tag := int(order.Uint16(data[pos : pos+2]))
		typ := order.Uint16(data[pos+2 : pos+4])
		cnt := order.Uint32(data[pos+4 : pos+8])
		valOff := data[pos+8 : pos+12]
		elemSize := tiffTypeSize(typ)
		size := elemSize * int(cnt)

		var raw []byte
		switch {
		case size <= 0:
		case size <= 4:
			raw = append([]byte{}, valOff[:size]...)
		default:
			off := order.Uint32(valOff)
			end := int(off) + size
			if off > uint32(len(data)) || end > len(data) {
				pos += 12
				continue
			}
			raw = append([]byte{}, data[off:end]...)
		}
		raw = swapToLittleEndian(raw, elemSize, order)
		entries = append(entries, rawIFD0Entry{tag: tag, typ: int(typ), count: cnt, value: raw})
		pos += 12
	}
	return entries, nil
}

// --- TIFF (standalone, not embedded in JPEG) ---------------------------

// EmbedTIFF decodes the source TIFF to an image, then re-encodes it as a
// fresh, minimal uncompressed TIFF carrying the same pixel data plus every
// IFD0 tag the source had (Make, Model, DateTime, Orientation, ICC profile,
// ...), with ImageDescription/UserComment overwritten by the watermark. This
// sidesteps relocating value offsets in an arbitrary pre-existing IFD, which
// a full TIFF writer would need to do, while still not silently dropping the
// source's own metadata the way a pixel-only re-encode would.
func EmbedTIFF(data []byte, payload []byte) ([]byte, error) {
	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFormatUnsupported, err)
	}

	existing, _ := parseIFD0RawEntries(data)

	b64 := base64.StdEncoding.EncodeToString(payload)
	desc := append([]byte("WM:"+truncate(b64, jpegDescriptionMaxChars)), 0)
	comment := append([]byte(truncate(b64, jpegCommentMaxChars)), 0)

	extra := make([]rawIFD0Entry, 0, len(existing)+2)
	for _, e := range existing {
		if e.tag == tagImageDescription || e.tag == tagUserComment {
			continue // overwritten below
		}
		extra = append(extra, e)
	}
	extra = append(extra,
		rawIFD0Entry{tag: tagImageDescription, typ: 2, count: uint32(len(desc)), value: desc},
		rawIFD0Entry{tag: tagUserComment, typ: 2, count: uint32(len(comment)), value: comment},
	)

	return encodeBaselineTIFF(img, extra)
}

// ExtractTIFF parses the IFD0 of a TIFF file directly (not via
// golang.org/x/image/tiff, which is decode-to-image only and discards
// custom tags) and returns the UserComment/ImageDescription payload.
func ExtractTIFF(data []byte) ([]byte, error) {
	tags, err := parseFlatIFD0(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFormatUnsupported, err)
	}
	if v, ok := tags[tagUserComment]; ok {
		if payload, err := base64.StdEncoding.DecodeString(v); err == nil {
			return payload, nil
		}
	}
	if v, ok := tags[tagImageDescription]; ok {
		trimmed := v
		if len(trimmed) >= 3 && trimmed[:3] == "WM:" {
			trimmed = trimmed[3:]
		}
		if payload, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
			return payload, nil
		}
	}
	return nil, fmt.Errorf("%w: no watermark tags in TIFF IFD0", models.ErrNoWatermarkFound)
}

// encodeBaselineTIFF writes an uncompressed 8-bit RGB TIFF with a flat
// IFD0 containing the baseline image tags plus the given extra tags, passed
// through verbatim regardless of field type. Tags that collide with the
// recomputed structural tags (dimensions, strip layout, ...) are dropped
// since those must reflect the pixel data actually being written here.
func encodeBaselineTIFF(img image.Image, extra []rawIFD0Entry) ([]byte, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	pixels := make([]byte, 0, w*h*3)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			pixels = append(pixels, byte(r>>8), byte(g>>8), byte(b>>8))
		}
	}

	const headerLen = 8
	type entry struct {
		tag, typ int
		count    uint32
		value    []byte // <=4 bytes inline, or offset payload otherwise
		isOffset bool
	}
	u32 := func(v uint32) []byte {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		return b
	}
	u16 := func(v uint16) []byte {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint16(b, v)
		return b
	}

	entries := []entry{
		{256, 4, 1, u32(uint32(w)), false},
		{257, 4, 1, u32(uint32(h)), false},
		{258, 3, 3, []byte{8, 0, 8, 0, 8, 0}, true},
		{259, 3, 1, u16(1), false}, // no compression
		{262, 3, 1, u16(2), false}, // RGB
		{277, 3, 1, u16(3), false}, // samples per pixel
		{278, 4, 1, u32(uint32(h)), false},
	}

	reservedTags := map[int]bool{256: true, 257: true, 258: true, 259: true, 262: true, 277: true, 278: true, 273: true, 279: true}
	filtered := make([]rawIFD0Entry, 0, len(extra))
	for _, e := range extra {
		if reservedTags[e.tag] {
			continue
		}
		filtered = append(filtered, e)
	}
	for i := 1; i < len(filtered); i++ {
		for j := i; j > 0 && filtered[j].tag < filtered[j-1].tag; j-- {
			filtered[j], filtered[j-1] = filtered[j-1], filtered[j]
		}
	}
	for _, e := range filtered {
		entries = append(entries, entry{e.tag, e.typ, e.count, e.value, len(e.value) > 4})
	}
	// StripOffsets/StripByteCounts placeholders, resolved below.
	entries = append(entries, entry{273, 4, 1, nil, true})  // StripOffsets
	entries = append(entries, entry{279, 4, 1, u32(uint32(len(pixels))), false}) // StripByteCounts

	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].tag < entries[j-1].tag; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}

	ifdLen := 2 + len(entries)*12 + 4
	valuesStart := uint32(headerLen) + uint32(ifdLen)

	valueArea := &bytes.Buffer{}
	voffsets := map[int]uint32{}
	cursor := valuesStart
	for i, e := range entries {
		if e.tag == 273 {
			continue // resolved after pixel placement below
		}
		if e.isOffset {
			voffsets[i] = cursor
			valueArea.Write(e.value)
			if len(e.value)%2 == 1 {
				valueArea.WriteByte(0)
				cursor++
			}
			cursor += uint32(len(e.value))
		}
	}
	stripOffset := cursor
	valueArea.Write(pixels)

	buf := &bytes.Buffer{}
	buf.WriteString("II")
	binary.Write(buf, binary.LittleEndian, uint16(42))
	binary.Write(buf, binary.LittleEndian, uint32(headerLen))
	binary.Write(buf, binary.LittleEndian, uint16(len(entries)))
	for i, e := range entries {
		binary.Write(buf, binary.LittleEndian, uint16(e.tag))
		binary.Write(buf, binary.LittleEndian, uint16(e.typ))
		binary.Write(buf, binary.LittleEndian, e.count)
		if e.tag == 273 {
			binary.Write(buf, binary.LittleEndian, stripOffset)
		} else if e.isOffset {
			binary.Write(buf, binary.LittleEndian, voffsets[i])
		} else {
			padded := make([]byte, 4)
			copy(padded, e.value)
			buf.Write(padded)
		}
	}
	binary.Write(buf, binary.LittleEndian, uint32(0))
	buf.Write(valueArea.Bytes())
	return buf.Bytes(), nil
}
