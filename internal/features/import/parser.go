package import_feature

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"go-assettrack/internal/models"

	"github.com/xuri/excelize/v2"
)

// RecordStream is a lazy, forward-only sequence of parsed rows. Next returns
// io.EOF once the source is exhausted; any other error means the source is
// corrupt and the stream must not be read further.
type RecordStream interface {
	Next() (*models.ImportRecord, error)
	Close() error
}

// OpenStream opens the stored file as a record stream, skipping the first
// skipRows data rows (the resume offset). The mapping translates file columns
// to asset fields; unmapped columns travel along as metadata.
func OpenStream(path, filename string, mapping map[string]string, skipRows int) (RecordStream, error) {
	switch {
	case strings.HasSuffix(strings.ToLower(filename), ".csv"):
		return openCSVStream(path, mapping, skipRows)
	case strings.HasSuffix(strings.ToLower(filename), ".xlsx"):
		return openXLSXStream(path, mapping, skipRows)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", filename)
	}
}

// csvStream reads delimited text incrementally; memory use is bounded by one
// row regardless of file size.
type csvStream struct {
	file    *os.File
	reader  *csv.Reader
	headers []string
	mapping map[string]string
	row     int // data rows already returned or skipped, 1-based for the next record
}

func openCSVStream(path string, mapping map[string]string, skipRows int) (RecordStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read CSV headers: %w", err)
	}

	s := &csvStream{
		file:    f,
		reader:  reader,
		headers: headers,
		mapping: mapping,
	}

	for i := 0; i < skipRows; i++ {
		if _, err := reader.Read(); err != nil {
			if err == io.EOF {
				break
			}
			f.Close()
			return nil, fmt.Errorf("failed to skip to resume offset: %w", err)
		}
		s.row++
	}

	return s, nil
}

func (s *csvStream) Next() (*models.ImportRecord, error) {
	row, err := s.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV row %d: %w", s.row+1, err)
	}

	s.row++
	return buildRecord(s.headers, row, s.mapping, s.row), nil
}

func (s *csvStream) Close() error {
	return s.file.Close()
}

// xlsxStream iterates worksheet rows through the excelize streaming reader.
// The workbook's zip directory and shared-string table are still held in
// memory, so spreadsheet imports are capped by the upload size limit; truly
// unbounded files must come in as CSV.
type xlsxStream struct {
	file    *excelize.File
	rows    *excelize.Rows
	headers []string
	mapping map[string]string
	row     int
}

func openXLSXStream(path string, mapping map[string]string, skipRows int) (RecordStream, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, fmt.Errorf("no sheets found in Excel file")
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read Excel rows: %w", err)
	}

	if !rows.Next() {
		rows.Close()
		f.Close()
		return nil, fmt.Errorf("Excel file is empty")
	}
	headers, err := rows.Columns()
	if err != nil {
		rows.Close()
		f.Close()
		return nil, fmt.Errorf("failed to read Excel headers: %w", err)
	}

	s := &xlsxStream{
		file:    f,
		rows:    rows,
		headers: headers,
		mapping: mapping,
	}

	for i := 0; i < skipRows; i++ {
		if !rows.Next() {
			break
		}
		s.row++
	}

	return s, nil
}

func (s *xlsxStream) Next() (*models.ImportRecord, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, fmt.Errorf("failed to read Excel row %d: %w", s.row+1, err)
		}
		return nil, io.EOF
	}

	row, err := s.rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read Excel row %d: %w", s.row+1, err)
	}

	s.row++
	return buildRecord(s.headers, row, s.mapping, s.row), nil
}

func (s *xlsxStream) Close() error {
	s.rows.Close()
	return s.file.Close()
}

// buildRecord maps one raw row onto the typed record. Natural-key and known
// fields fill struct members; everything else is kept as ordered metadata so
// a round trip through the store loses nothing.
func buildRecord(headers, row []string, mapping map[string]string, rowNum int) *models.ImportRecord {
	rec := &models.ImportRecord{Row: rowNum}

	for i, header := range headers {
		var value string
		if i < len(row) {
			value = strings.TrimSpace(row[i])
		}

		header = strings.TrimSpace(header)
		field := strings.ToLower(header)
		if mapping != nil {
			if mapped, ok := mapping[header]; ok && mapped != "" {
				field = mapped
			} else if len(mapping) > 0 {
				// Explicit mapping provided and this column is not in it.
				rec.Extra = append(rec.Extra, models.MetaField{Key: header, Value: value})
				continue
			}
		}

		switch field {
		case "code":
			rec.Code = value
		case "tag":
			rec.Tag = value
		case "name":
			rec.Name = value
		case "status":
			rec.Status = value
		case "priority":
			rec.Priority = value
		case "location":
			rec.Location = value
		case "custodian":
			rec.Custodian = value
		case "acquired_at":
			rec.AcquiredAt = value
		default:
			rec.Extra = append(rec.Extra, models.MetaField{Key: header, Value: value})
		}
	}

	return rec
}

// TemplateHeaders is the column set the template download advertises.
var TemplateHeaders = []string{"code", "tag", "name", "status", "priority", "location", "custodian", "acquired_at"}

// PreviewFile reads headers, up to five sample rows and the row count from an
// uploaded file before it is stored. The CSV path streams; the Excel path
// loads the workbook and is bounded by the upload size limit.
func PreviewFile(file io.Reader, filename string) (*models.ImportPreview, error) {
	if strings.HasSuffix(strings.ToLower(filename), ".csv") {
		return previewCSV(file)
	}
	if strings.HasSuffix(strings.ToLower(filename), ".xlsx") {
		return previewExcel(file)
	}
	return nil, fmt.Errorf("unsupported file format: %s", filename)
}

func previewCSV(file io.Reader) (*models.ImportPreview, error) {
	reader := csv.NewReader(file)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV headers: %w", err)
	}

	preview := &models.ImportPreview{Headers: headers}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}

		preview.TotalRows++
		if preview.TotalRows <= 5 {
			preview.SampleData = append(preview.SampleData, sampleRow(headers, row))
		}
	}

	return preview, nil
}

func previewExcel(file io.Reader) (*models.ImportPreview, error) {
	f, err := excelize.OpenReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets found in Excel file")
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read Excel rows: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("Excel file is empty")
	}
	headers, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read Excel headers: %w", err)
	}

	preview := &models.ImportPreview{Headers: headers}
	for rows.Next() {
		row, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("failed to read Excel row: %w", err)
		}

		preview.TotalRows++
		if preview.TotalRows <= 5 {
			preview.SampleData = append(preview.SampleData, sampleRow(headers, row))
		}
	}

	return preview, nil
}

func sampleRow(headers, row []string) map[string]string {
	out := make(map[string]string, len(headers))
	for i, header := range headers {
		if i < len(row) {
			out[header] = row[i]
		}
	}
	return out
}
