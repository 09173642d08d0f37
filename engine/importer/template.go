package importer

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// Template builds an empty workbook with the exact sheet names and headers
// Import expects.
func Template() (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", marketLayout.name); err != nil {
		f.Close()
		return nil, fmt.Errorf("importer: template: %w", err)
	}
	if _, err := f.NewSheet(referenceLayout.name); err != nil {
		f.Close()
		return nil, fmt.Errorf("importer: template: %w", err)
	}
	for _, l := range layouts {
		headers := l.headers()
		if err := f.SetSheetRow(l.name, "A1", &headers); err != nil {
			f.Close()
			return nil, fmt.Errorf("importer: template: %w", err)
		}
	}
	f.SetActiveSheet(0)
	return f, nil
}

// WriteTemplate writes the template workbook as xlsx to w.
func WriteTemplate(w io.Writer) error {
	f, err := Template()
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}
