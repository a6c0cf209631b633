package parser

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"html"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/tealeg/xlsx"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"document-qa/internal/models"
)

// Parser turns a stored file into plain text.
type Parser interface {
	ParseToText(filePath string) (string, error)
}

// FileParser dispatches on the file extension. Files are read through fs.
type FileParser struct {
	fs afero.Fs
}

func NewFileParser(fs afero.Fs) *FileParser {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileParser{fs: fs}
}

var (
	slideName  = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	xmlTag     = regexp.MustCompile(`<[^>]+>`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// SupportedExtensions lists the extensions ParseToText understands.
func SupportedExtensions() []string {
	return []string{".csv", ".json", ".xlsx", ".xlsm", ".xltx", ".xltm", ".pdf", ".docx", ".pptx", ".md", ".txt"}
}

// ParseToText returns the plain text of filePath. Unknown extensions return
// models.ErrUnsupportedFormat.
func (p *FileParser) ParseToText(filePath string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	if !supported(ext) {
		return "", fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, ext)
	}

	data, err := afero.ReadFile(p.fs, filePath)
	if err != nil {
		return "", err
	}
	log.Debug().Str("file", filePath).Int("bytes", len(data)).Msg("Parsing file")

	switch ext {
	case ".csv":
		return parseCSV(data)
	case ".json":
		return parseJSON(data)
	case ".xlsx":
		return parseXLSX(data)
	case ".xlsm", ".xltx", ".xltm":
		return parseSpreadsheet(data)
	case ".pdf":
		return parsePDF(data)
	case ".docx":
		return parseDOCX(data)
	case ".pptx":
		return parsePPTX(data)
	case ".md":
		return parseMarkdown(data)
	default:
		return string(data), nil
	}
}

func supported(ext string) bool {
	for _, e := range SupportedExtensions() {
		if e == ext {
			return true
		}
	}
	return false
}

func parseCSV(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var out strings.Builder
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read csv: %w", err)
		}
		out.WriteString(strings.Join(record, "\t"))
		out.WriteString("\n")
	}
	return out.String(), nil
}

// parseJSON validates the document and returns it compacted.
func parseJSON(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("invalid json document")
	}
	return string(pretty.Ugly(data)), nil
}

func parseXLSX(data []byte) (string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		log.Debug().Err(err).Msg("xlsx reader failed, falling back to excelize")
		return parseSpreadsheet(data)
	}

	var out strings.Builder
	for _, sheet := range f.Sheets {
		out.WriteString(fmt.Sprintf("## Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			out.WriteString(strings.Join(cells, "\t"))
			out.WriteString("\n")
		}
	}
	return out.String(), nil
}

// parseSpreadsheet reads every sheet with excelize.
func parseSpreadsheet(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	var out strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			log.Warn().Err(err).Str("sheet", sheetName).Msg("Skipping unreadable sheet")
			continue
		}
		out.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		for _, row := range rows {
			out.WriteString(strings.Join(row, "\t"))
			out.WriteString("\n")
		}
	}
	return out.String(), nil
}

// parsePDF joins the text layer of every page with newlines.
func parsePDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("read pdf page %d: %w", i, err)
		}
		pages = append(pages, pageText)
	}
	return strings.Join(pages, "\n"), nil
}

func parseDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	return xmlToText(r.Editable().GetContent(), "</w:p>", "<w:tab/>"), nil
}

// parsePPTX returns slide text in slide order.
func parsePPTX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pptx: %w", err)
	}

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideName.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, file: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var out strings.Builder
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			continue
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		out.WriteString(xmlToText(string(content), "</a:p>", "<a:tab/>"))
	}
	return out.String(), nil
}

// xmlToText keeps only character data, turning paragraph ends into newlines.
func xmlToText(content, paragraphEnd, tab string) string {
	content = strings.ReplaceAll(content, paragraphEnd, paragraphEnd+"\n")
	content = strings.ReplaceAll(content, tab, "\t")
	content = xmlTag.ReplaceAllString(content, "")
	content = html.UnescapeString(content)
	return blankLines.ReplaceAllString(strings.TrimSpace(content), "\n\n") + "\n"
}

// parseMarkdown drops markup and keeps the rendered text, one block per line.
func parseMarkdown(src []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var out bytes.Buffer
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				out.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					out.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				out.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				out.Write(node.Label(src))
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					out.Write(seg.Value(src))
				}
			}
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock, *east.TableRow, *east.TableHeader:
			if !entering {
				out.WriteByte('\n')
			}
		case *east.TableCell:
			if !entering && n.NextSibling() != nil {
				out.WriteByte('\t')
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", fmt.Errorf("walk markdown: %w", err)
	}
	return out.String(), nil
}
