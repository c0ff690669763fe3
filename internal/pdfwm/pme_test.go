package pdfwm

import "testing"

// minimalPDF builds a tiny but structurally valid single-revision PDF: one
// object, a trailer with /Root, and a startxref/%%EOF footer — just enough
// for findLatestRootAndTrailer to locate a chain point.
func minimalPDF() []byte {
	body := "%PDF-1.4\n" +
		"1 0 obj\n<< /Type /Catalog >>\nendobj\n" +
		"xref\n0 2\n0000000000 65535 f \n0000000009 00000 n \n" +
		"trailer\n<< /Size 2 /Root 1 0 R >>\n" +
		"startxref\n9\n%%EOF"
	return []byte(body)
}

func TestEmbedExtractPMERoundTrip(t *testing.T) {
	pdf := minimalPDF()
	payload := []byte("pme-payload-bytes")

	out, err := Embed(pdf, payload)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	got, err := Extract(out)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestEmbedPreservesOriginalBytesAsPrefix(t *testing.T) {
	pdf := minimalPDF()
	out, err := Embed(pdf, []byte("x"))
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(out) < len(pdf) {
		t.Fatalf("incremental update shrank the file")
	}
	for i := range pdf {
		if out[i] != pdf[i] {
			t.Fatalf("byte %d of original PDF was modified by incremental update", i)
		}
	}
}

func TestExtractFailsOnPlainPDF(t *testing.T) {
	pdf := minimalPDF()
	if _, err := Extract(pdf); err == nil {
		t.Fatalf("expected an error extracting from a PDF with no watermark metadata")
	}
}

func TestEmbedRejectsNonPDF(t *testing.T) {
	if _, err := Embed([]byte("not a pdf"), []byte("x")); err == nil {
		t.Fatalf("expected an error for non-PDF input")
	}
}
