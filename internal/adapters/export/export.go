// Package export renders compliance summaries as spreadsheets.
package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/pmuci/pointage/internal/domain/compliance"
)

const (
	// SheetName is the worksheet holding the compliance rows.
	SheetName = "Conformite"

	// ContentType is the MIME type of the workbook.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var header = []any{"Agence", "Chef d'agence", "Guichets requis", "Jours couverts", "Jours total", "Taux", "Conforme"}

// ComplianceWorkbook writes one row per agency of s, under a bold header and a
// period line, and returns the encoded XLSX.
func ComplianceWorkbook(s compliance.Summary) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	period := fmt.Sprintf("Du %s au %s", s.Range.Start.Format("2006-01-02"), s.Range.End.Format("2006-01-02"))
	if err := f.SetCellValue(SheetName, "A1", period); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(SheetName, "A2", &header); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(SheetName, "A1", "G2", bold); err != nil {
		return nil, err
	}

	for i, r := range s.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+3)
		if err != nil {
			return nil, err
		}
		compliant := "Non"
		if r.Compliant {
			compliant = "Oui"
		}
		row := []any{r.Agency.Name, r.ChefName, r.Agency.RequiredTerminals, r.CoveredDays, r.TotalDays, r.Label, compliant}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return nil, err
		}
	}

	footer, err := excelize.CoordinatesToCellName(1, len(s.Rows)+4)
	if err != nil {
		return nil, err
	}
	total := []any{"Agences conformes", fmt.Sprintf("%d / %d", s.Compliant, s.Agencies)}
	if err := f.SetSheetRow(SheetName, footer, &total); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(SheetName, "A", "B", 28); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}
