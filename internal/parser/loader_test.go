package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"docs-rag/internal/config"
	"docs-rag/internal/models"
)

func newTestLoader(t *testing.T, exts ...string) *Loader {
	t.Helper()
	l, err := NewLoader(config.LoaderConfig{
		Extensions:   exts,
		ChunkSize:    20,
		ChunkOverlap: 5,
		Splitter:     "window",
	})
	require.NoError(t, err)
	return l
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// writePDF writes a minimal PDF with one Helvetica text line per page and a
// correct cross-reference table.
func writePDF(t *testing.T, path string, pages ...string) {
	t.Helper()
	n := len(pages)
	fontObj := 3 + 2*n
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
	}
	kids := make([]string, n)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}
	objects = append(objects, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))
	for i, text := range pages {
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", fontObj, 4+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		)
	}
	objects = append(objects, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	writeFile(t, path, buf.String())
}

func TestExtractTextPDFPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.pdf")
	writePDF(t, path, "Inventory chairs tables", "Customer Pirkko Koskitalo")

	ext, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, 2, ext.Pages())
	assert.Contains(t, ext.Text, "Inventory chairs tables")
	assert.Contains(t, ext.Text, "Customer Pirkko Koskitalo")

	idx := strings.Index(ext.Text, "Customer")
	require.Greater(t, idx, 0)
	assert.Equal(t, 1, ext.PageAt(0))
	assert.Equal(t, 2, ext.PageAt(len([]rune(ext.Text[:idx]))))
}

func TestLoadAndSplitPDFTracksPages(t *testing.T) {
	dir := t.TempDir()
	writePDF(t, filepath.Join(dir, "catalog.pdf"), "Inventory chairs tables", "Customer Pirkko Koskitalo")

	chunks, err := newTestLoader(t, ".pdf").LoadAndSplit(context.Background(), dir)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 3)

	first, last := chunks[0], chunks[len(chunks)-1]
	assert.Equal(t, "1", first.Metadata[models.MetaPage])
	assert.Equal(t, "2", last.Metadata[models.MetaPage])
	assert.Equal(t, "2", first.Metadata[models.MetaPages])
	assert.Equal(t, "pdf", first.Metadata[models.MetaFileType])
	assert.True(t, strings.HasPrefix(first.Text, "Inventory"))
	assert.True(t, strings.HasSuffix("Customer Pirkko Koskitalo", last.Text), last.Text)
}

func TestLoadAndSplitOnlyUnparseableFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.pdf"), "this is not a pdf")
	writeFile(t, filepath.Join(dir, "nested", "empty.pdf"), "")
	writeFile(t, filepath.Join(dir, "nested", "garbage.pdf"), "%PDF-1.4\n%%EOF garbage")

	chunks, err := newTestLoader(t, ".pdf").LoadAndSplit(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestLoadAndSplitSkipsFailuresAndKeepsOthers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a_broken.pdf"), "not a pdf")
	text := "The quick brown fox jumps over the lazy dog. Again and again."
	writeFile(t, filepath.Join(dir, "b_notes.txt"), text)
	writeFile(t, filepath.Join(dir, "ignored.csv"), "a,b,c")

	chunks, err := newTestLoader(t, ".pdf", ".txt").LoadAndSplit(context.Background(), dir)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	source := filepath.Join(dir, "b_notes.txt")
	for i, c := range chunks {
		assert.Equal(t, source, c.Metadata[models.MetaSource])
		assert.Equal(t, "b_notes.txt", c.Metadata[models.MetaFileName])
		assert.Equal(t, "txt", c.Metadata[models.MetaFileType])
		assert.Equal(t, "1", c.Metadata[models.MetaPage])
		assert.Equal(t, strconv.Itoa(i), c.Metadata[models.MetaChunkIndex])
	}
	assert.Equal(t, text[:20], chunks[0].Text)

	// chunks must not share metadata maps
	chunks[0].Metadata["extra"] = "x"
	assert.NotContains(t, chunks[1].Metadata, "extra")
}

func TestLoadAndSplitMissingDirectory(t *testing.T) {
	_, err := newTestLoader(t, ".pdf").LoadAndSplit(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrIngestion)
}

func TestLoadAndSplitMarkdown(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "readme.md"), "# Inventory\n\nWe stock **apples** and pears.\n\n- chairs\n- tables\n")

	l, err := NewLoader(config.LoaderConfig{Extensions: []string{".md"}, ChunkSize: 1000, ChunkOverlap: 200})
	require.NoError(t, err)
	chunks, err := l.LoadAndSplit(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	got := chunks[0].Text
	assert.Contains(t, got, "Inventory")
	assert.Contains(t, got, "We stock apples and pears.")
	assert.Contains(t, got, "chairs")
	assert.NotContains(t, got, "**")
	assert.NotContains(t, got, "#")
}

func TestExtractTextSpreadsheetPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Item"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Qty"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "Chai"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 12))
	_, err := f.NewSheet("Customers")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Customers", "A1", "Pirkko Koskitalo"))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	ext, err := ExtractText(path)
	require.NoError(t, err)

	assert.Equal(t, 2, ext.Pages())
	assert.Contains(t, ext.Text, "## Sheet: Sheet1\nItem\tQty\nChai\t12")
	idx := strings.Index(ext.Text, "Pirkko")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, 2, ext.PageAt(len([]rune(ext.Text[:idx]))))
	assert.Equal(t, 1, ext.PageAt(0))
}

func TestExtractTextMacroWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsm")
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Region"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "North"))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	ext, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, 1, ext.Pages())
	assert.Contains(t, ext.Text, "## Sheet: Sheet1\nRegion\tNorth")
}

func TestExtractTextSlidesInNumericOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.pptx")
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	slides := map[string]string{
		"ppt/slides/slide10.xml": `<p:sld><a:t>tenth</a:t></p:sld>`,
		"ppt/slides/slide2.xml":  `<p:sld><a:t>second</a:t><a:t lang="en">slide &amp; more</a:t></p:sld>`,
		"ppt/slides/slide1.xml":  `<p:sld><a:t>first</a:t></p:sld>`,
	}
	for _, name := range []string{"ppt/slides/slide10.xml", "ppt/slides/slide2.xml", "ppt/slides/slide1.xml"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(slides[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())

	ext, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond slide & more\ntenth", ext.Text)
	assert.Equal(t, []int{0, 6, 26}, ext.PageStarts)
}

func TestExtractTextUnsupported(t *testing.T) {
	_, err := ExtractText("file.odt")
	assert.Error(t, err)
}
