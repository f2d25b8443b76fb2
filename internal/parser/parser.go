package parser

import (
	"archive/zip"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// Extracted is the plain text of one source file. PageStarts holds the rune
// offset where each page (or sheet, or slide) begins within Text.
type Extracted struct {
	Text       string
	PageStarts []int
}

// Pages returns the number of pages in the source, at least 1.
func (e *Extracted) Pages() int {
	if len(e.PageStarts) == 0 {
		return 1
	}
	return len(e.PageStarts)
}

// PageAt returns the 1-based page containing the given rune offset.
func (e *Extracted) PageAt(offset int) int {
	if len(e.PageStarts) == 0 || offset < 0 {
		return 1
	}
	return sort.SearchInts(e.PageStarts, offset+1)
}

var (
	wordTextRe  = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	slideTextRe = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)
	slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

// Supported reports whether ExtractText knows the extension.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".md", ".markdown", ".txt":
		return true
	}
	return false
}

// ExtractText pulls the plain text out of a single file, dispatching on extension.
func ExtractText(filePath string) (*Extracted, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		return parsePDF(filePath)
	case ".docx":
		return parseDOCX(filePath)
	case ".pptx":
		return parsePPTX(filePath)
	case ".xlsx":
		return parseXLSX(filePath)
	case ".xlsm":
		return parseWorkbook(filePath)
	case ".md", ".markdown":
		return parseMarkdown(filePath)
	case ".txt":
		return parseText(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

// pageBuilder joins pages with a newline and records where each one starts.
type pageBuilder struct {
	sb     strings.Builder
	runes  int
	starts []int
}

func (b *pageBuilder) add(page string) {
	if len(b.starts) > 0 {
		b.sb.WriteByte('\n')
		b.runes++
	}
	b.starts = append(b.starts, b.runes)
	b.sb.WriteString(page)
	b.runes += utf8.RuneCountInString(page)
}

func (b *pageBuilder) result() *Extracted {
	return &Extracted{Text: b.sb.String(), PageStarts: b.starts}
}

func parsePDF(filePath string) (ext *Extracted, err error) {
	// the pdf reader panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			ext, err = nil, fmt.Errorf("malformed pdf %s: %v", filePath, r)
		}
	}()

	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var b pageBuilder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			b.add("")
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		b.add(cleanText(pageText))
	}
	return b.result(), nil
}

func parseDOCX(filePath string) (*Extracted, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := r.Editable().GetContent()
	var paragraphs []string
	for _, p := range strings.Split(content, "</w:p>") {
		if t := xmlText(wordTextRe, p, ""); strings.TrimSpace(t) != "" {
			paragraphs = append(paragraphs, t)
		}
	}

	var b pageBuilder
	b.add(strings.Join(paragraphs, "\n"))
	return b.result(), nil
}

func parsePPTX(filePath string) (*Extracted, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, file := range zr.File {
		if m := slideNameRe.FindStringSubmatch(file.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{num: n, file: file})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var b pageBuilder
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		b.add(xmlText(slideTextRe, string(data), " "))
	}
	return b.result(), nil
}

func parseXLSX(filePath string) (*Extracted, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var b pageBuilder
	for _, sheet := range f.Sheets {
		rows := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := make([]string, len(row.Cells))
			for i, cell := range row.Cells {
				cells[i] = cell.String()
			}
			rows = append(rows, cells)
		}
		b.add(sheetText(sheet.Name, rows))
	}
	return b.result(), nil
}

// parseWorkbook reads macro-enabled workbooks, which xlsx does not open.
func parseWorkbook(filePath string) (*Extracted, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var b pageBuilder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		b.add(sheetText(sheetName, rows))
	}
	return b.result(), nil
}

// sheetText renders one sheet as a page, tab-separated cells per line.
func sheetText(name string, rows [][]string) string {
	var sheet strings.Builder
	sheet.WriteString(fmt.Sprintf("## Sheet: %s\n", name))
	for _, row := range rows {
		sheet.WriteString(strings.TrimRight(strings.Join(row, "\t"), "\t"))
		sheet.WriteString("\n")
	}
	return sheet.String()
}

func parseMarkdown(filePath string) (*Extracted, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var b pageBuilder
	b.add(markdownToText(data))
	return b.result(), nil
}

func parseText(filePath string) (*Extracted, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var b pageBuilder
	b.add(cleanText(string(data)))
	return b.result(), nil
}

// markdownToText renders the text content of a markdown document, one block per line.
func markdownToText(src []byte) string {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var sb strings.Builder
	newline := func() {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
	}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				sb.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					sb.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				sb.Write(node.Value)
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					sb.Write(seg.Value(src))
				}
			}
		default:
			if !entering && n.Type() == ast.TypeBlock {
				newline()
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

func xmlText(re *regexp.Regexp, xml, sep string) string {
	var parts []string
	for _, m := range re.FindAllStringSubmatch(xml, -1) {
		parts = append(parts, html.UnescapeString(m[1]))
	}
	return strings.Join(parts, sep)
}

func cleanText(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.ReplaceAll(s, "\x00", "")
}
