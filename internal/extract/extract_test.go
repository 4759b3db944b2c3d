package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// buildPDF writes a minimal single-font PDF with one page per string.
func buildPDF(pages ...string) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	n := len(pages)
	kids := make([]string, n)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	for i, text := range pages {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))
		content := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func TestPDF(t *testing.T) {
	pages, err := PDF(buildPDF("Hello PDF", "", "Third page"))
	if err != nil {
		t.Fatalf("PDF: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("got %d pages, want 2 (blank page skipped): %+v", len(pages), pages)
	}
	if pages[0].Number != 1 || !strings.Contains(pages[0].Text, "Hello PDF") {
		t.Errorf("page 0 = %+v", pages[0])
	}
	if pages[1].Number != 3 || !strings.Contains(pages[1].Text, "Third page") {
		t.Errorf("page 1 = %+v", pages[1])
	}
}

func TestPDF_Invalid(t *testing.T) {
	for name, b := range map[string][]byte{
		"empty":     nil,
		"not a pdf": []byte(strings.Repeat("plain text ", 20)),
		"truncated": buildPDF("Hello")[:120],
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := PDF(b); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestHTML(t *testing.T) {
	doc := `<!doctype html><html><head><title>T</title><style>p{}</style></head>
<body><h1>Title</h1><p>First <b>bold</b>   paragraph.</p>
<script>alert(1)</script><ul><li>one</li><li>two</li></ul></body></html>`

	got, err := HTML([]byte(doc))
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	want := "Title\n\nFirst bold paragraph.\n\none\n\ntwo"
	if got != want {
		t.Errorf("HTML() = %q, want %q", got, want)
	}
}

func TestDocument_Dispatch(t *testing.T) {
	pages, err := Document("notes.md", "", []byte("# Notes\nbody"))
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if len(pages) != 1 || pages[0].Number != 0 || pages[0].Text != "# Notes\nbody" {
		t.Errorf("pages = %+v", pages)
	}

	pages, err = Document("upload", "text/html; charset=utf-8", []byte("<p>hi</p>"))
	if err != nil || len(pages) != 1 || pages[0].Text != "hi" {
		t.Errorf("html by content type: %+v, %v", pages, err)
	}

	if _, err := Document("image.png", "image/png", []byte{0x89}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unsupported err = %v", err)
	}
	if _, err := Document("bad.txt", "", []byte{0xff, 0xfe}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("invalid utf-8 err = %v", err)
	}
}

func TestVideoID(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ?t=42", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/a_b-c1234XY", "a_b-c1234XY"},
	}
	for _, tt := range tests {
		got, err := VideoID(tt.ref)
		if err != nil || got != tt.want {
			t.Errorf("VideoID(%q) = %q, %v; want %q", tt.ref, got, err, tt.want)
		}
	}

	for _, bad := range []string{"", "https://vimeo.com/123", "https://youtu.be/short"} {
		if _, err := VideoID(bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("VideoID(%q) err = %v, want ErrInvalidInput", bad, err)
		}
	}
}

func TestTranscript(t *testing.T) {
	name, pages, err := Transcript("https://youtu.be/dQw4w9WgXcQ", "  never gonna  ")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if name != "youtube_dQw4w9WgXcQ" || len(pages) != 1 || pages[0].Text != "never gonna" {
		t.Errorf("got %q %+v", name, pages)
	}

	if _, _, err := Transcript("https://youtu.be/dQw4w9WgXcQ", " "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty transcript err = %v", err)
	}
}

func TestParseCSV(t *testing.T) {
	table, err := ParseCSV([]byte("\xef\xbb\xbfname, age\nada,36\nalan,41\n"))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if strings.Join(table.Columns, "|") != "name|age" {
		t.Errorf("columns = %q", table.Columns)
	}
	if table.Shape() != [2]int{2, 2} {
		t.Errorf("shape = %v", table.Shape())
	}

	preview := table.Preview(10)
	if len(preview) != 2 || preview[1]["age"] != "41" {
		t.Errorf("preview = %v", preview)
	}

	pages := table.Pages()
	if len(pages) != 2 || pages[0].Number != 1 || pages[0].Text != "name: ada\nage: 36" {
		t.Errorf("pages = %+v", pages)
	}

	blob, err := table.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := DecodeTable(blob)
	if err != nil || back.Rows[1][0] != "alan" {
		t.Errorf("DecodeTable = %+v, %v", back, err)
	}
}

func TestParseCSV_Invalid(t *testing.T) {
	for name, in := range map[string]string{
		"empty":       "",
		"header only": "a,b\n",
		"ragged":      "a,b\n1,2\n3\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCSV([]byte(in)); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}
