// Package pdfwm implements the PDF metadata embedder (PME): an incremental
// PDF update that appends a new Info dictionary object and a new trailer,
// leaving every byte of the original file — including page content
// streams — untouched. Grounded on original_source's pdf_watermark.py
// (which uses pypdf's metadata dict, keyed '/WMHash'/'/WMPayload'/'/Title'),
// reimplemented as a raw incremental update since no PDF library is present
// anywhere in the retrieved example pack.
package pdfwm

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/aquaseal/watermark-engine/backend/models"
)

const (
	wmHashKey       = "WMHash"
	wmPayloadKey    = "WMPayload"
	hashMaxChars    = 2000
	payloadMaxChars = 1000
)

var trailerRe = regexp.MustCompile(`trailer\s*<<(.*?)>>`)
var rootRe = regexp.MustCompile(`/Root\s+(\d+)\s+\d+\s+R`)
var infoRe = regexp.MustCompile(`/Info\s+(\d+)\s+\d+\s+R`)
var startxrefRe = regexp.MustCompile(`startxref\s*(\d+)\s*\n%%EOF`)
var infoDictFieldRe = regexp.MustCompile(`/([A-Za-z0-9]+)\s*\(((?:[^()\\]|\\.)*)\)`)

// Embed appends a new Info dictionary object (carrying /WMHash, /WMPayload,
// and a watermarked /Title) plus a minimal new xref/trailer pointing at it,
// to the end of the original PDF bytes.
func Embed(data []byte, payload []byte) ([]byte, error) {
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("%PDF")) {
		return nil, fmt.Errorf("%w: not a PDF file", models.ErrFormatUnsupported)
	}

	rootRef, infoRef, prevTrailer, err := findLatestRootAndTrailer(data)
	if err != nil {
		return nil, err
	}

	b64 := base64.StdEncoding.EncodeToString(payload)
	wmHash := truncate(b64, hashMaxChars)
	wmPayload := truncate(sanitizePDFText(string(payload)), payloadMaxChars)

	var priorInfo map[string]string
	if infoRef > 0 {
		priorInfo = parseInfoDict(data, infoRef)
	}

	existingTitle := priorInfo["Title"]
	var title string
	if existingTitle != "" {
		title = fmt.Sprintf("%s [ %s ]", existingTitle, truncate(b64, 16))
	} else {
		title = truncate(b64, 100)
	}

	objNum := nextFreeObjectNumber(data)

	out := append([]byte{}, data...)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	objOffset := len(out)

	var dict bytes.Buffer
	fmt.Fprintf(&dict, "%d 0 obj\n<< /Title (%s) /%s (%s) /%s (%s)",
		objNum, escapePDFString(title), wmHashKey, escapePDFString(wmHash), wmPayloadKey, escapePDFString(wmPayload))
	// Carry forward every other pre-existing Info field (Author, Subject,
	// Creator, Producer, CreationDate, Keywords, ...) since this object
	// fully replaces the prior one in the newest trailer's /Info entry.
	priorKeys := make([]string, 0, len(priorInfo))
	for k := range priorInfo {
		priorKeys = append(priorKeys, k)
	}
	sort.Strings(priorKeys)
	for _, k := range priorKeys {
		if k == "Title" || k == wmHashKey || k == wmPayloadKey {
			continue
		}
		fmt.Fprintf(&dict, " /%s (%s)", k, priorInfo[k])
	}
	dict.WriteString(" >>\nendobj\n")
	out = append(out, dict.Bytes()...)

	// Minimal cross-reference subsection covering only the new object; PDF
	// readers fall back to the previous xref table via /Prev for everything
	// else, which incremental update guarantees stays byte-identical.
	xrefStart := len(out)
	xref := fmt.Sprintf("xref\n0 1\n0000000000 65535 f \n%d 1\n%010d 00000 n \n", objNum, objOffset)
	out = append(out, []byte(xref)...)

	trailer := fmt.Sprintf("trailer\n<< /Size %d /Root %d 0 R /Info %d 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF",
		objNum+1, rootRef, objNum, prevTrailer, xrefStart)
	out = append(out, []byte(trailer)...)

	return out, nil
}

// Extract walks the chain of incremental updates looking for the most
// recently appended Info dictionary carrying /WMHash or /WMPayload, falling
// back to a bracketed hash inside /Title.
func Extract(data []byte) ([]byte, error) {
	if v, ok := extractInfoField(data, "/"+wmHashKey); ok {
		if payload, err := base64.StdEncoding.DecodeString(v); err == nil {
			return payload, nil
		}
	}
	if v, ok := extractInfoField(data, "/"+wmPayloadKey); ok {
		return []byte(unescapePDFString(v)), nil
	}
	if title, ok := extractInfoField(data, "/Title"); ok {
		if start := bytes.LastIndexByte([]byte(title), '['); start >= 0 {
			if end := bytes.LastIndexByte([]byte(title), ']'); end > start {
				candidate := bytes.TrimSpace([]byte(title[start+1 : end]))
				if len(candidate) >= 16 {
					if payload, err := base64.StdEncoding.DecodeString(string(candidate)); err == nil {
						return payload, nil
					}
				}
			}
		}
	}
	return nil, fmt.Errorf("%w: no watermark metadata in PDF", models.ErrNoWatermarkFound)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func escapePDFString(s string) string {
	r := bytes.NewBuffer(nil)
	for _, c := range []byte(s) {
		switch c {
		case '(', ')', '\\':
			r.WriteByte('\\')
			r.WriteByte(c)
		default:
			r.WriteByte(c)
		}
	}
	return r.String()
}

func unescapePDFString(s string) string {
	var b bytes.Buffer
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func sanitizePDFText(s string) string {
	return escapePDFString(s)
}

// findLatestRootAndTrailer returns the Root object reference, the Info
// object reference (0 if the trailer has none), and the startxref offset of
// the most recent trailer, so a new incremental update can chain /Prev and
// copy forward the prior Info dictionary correctly.
func findLatestRootAndTrailer(data []byte) (rootRef int, infoRef int, prevXrefOffset int, err error) {
	matches := trailerRe.FindAllStringSubmatch(string(data), -1)
	if len(matches) == 0 {
		return 0, 0, 0, fmt.Errorf("%w: no trailer dictionary found", models.ErrFormatUnsupported)
	}
	last := matches[len(matches)-1][1]
	rootMatch := rootRe.FindStringSubmatch(last)
	if rootMatch == nil {
		return 0, 0, 0, fmt.Errorf("%w: no /Root entry in trailer", models.ErrFormatUnsupported)
	}
	rootRef, _ = strconv.Atoi(rootMatch[1])

	if infoMatch := infoRe.FindStringSubmatch(last); infoMatch != nil {
		infoRef, _ = strconv.Atoi(infoMatch[1])
	}

	sx := startxrefRe.FindAllStringSubmatch(string(data), -1)
	if len(sx) > 0 {
		prevXrefOffset, _ = strconv.Atoi(sx[len(sx)-1][1])
	}
	return rootRef, infoRef, prevXrefOffset, nil
}

var infoObjRe = regexp.MustCompile(`(?s)(\d+)\s+0\s+obj(.*?)endobj`)

// parseInfoDict locates the most recently appended "objNum 0 obj ... endobj"
// definition of objNum and returns its string-valued dictionary entries,
// keyed by PDF name without the leading slash.
func parseInfoDict(data []byte, objNum int) map[string]string {
	fields := map[string]string{}
	for _, m := range infoObjRe.FindAllStringSubmatch(string(data), -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n != objNum {
			continue
		}
		body := m[2]
		for _, kv := range infoDictFieldRe.FindAllStringSubmatch(body, -1) {
			fields[kv[1]] = kv[2]
		}
	}
	return fields
}

var objRe = regexp.MustCompile(`(\d+)\s+\d+\s+obj`)

// nextFreeObjectNumber scans for the highest "N 0 obj" object number used
// anywhere in the file (across all incremental updates) and returns one
// past it, so the new Info object never collides with an existing one.
func nextFreeObjectNumber(data []byte) int {
	matches := objRe.FindAllStringSubmatch(string(data), -1)
	max := 0
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > max {
			max = n
		}
	}
	return max + 1
}

// extractInfoField does a best-effort textual scan for "/Key (value)"
// across the whole file, preferring the last (most recently appended)
// match — sufficient for both the writer's own incremental Info object and
// the original document's pre-existing /Title, without needing a full
// object/xref parser. The pattern is compiled fresh each call since Engine
// calls may run concurrently across goroutines and a shared map cache would
// race.
func extractInfoField(data []byte, key string) (string, bool) {
	re := regexp.MustCompile(regexp.QuoteMeta(key) + `\s*\(((?:[^()\\]|\\.)*)\)`)
	matches := re.FindAllStringSubmatch(string(data), -1)
	if len(matches) == 0 {
		return "", false
	}
	return matches[len(matches)-1][1], true
}
