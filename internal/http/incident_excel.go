package httpapi

import (
	"bytes"
	"fmt"
	"time"

	"github.com/CALEB-creator15/sih-backend-project/internal/models"

	"github.com/xuri/excelize/v2"
)

const incidentSheet = "Incidents"

// IncidentExportHeader export columns, in order
var IncidentExportHeader = []string{
	"ID",
	"Location",
	"Incident Type",
	"Severity",
	"Description",
	"Reported At (UTC)",
}

var incidentColumnWidths = []float64{8, 30, 20, 10, 40, 24}

// GenerateIncidentExport renders the incidents, in log order, as an XLSX
// workbook with a frozen header row. An empty log yields the header only.
func GenerateIncidentExport(incidents []models.Incident) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(incidentSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	header := make([]interface{}, len(IncidentExportHeader))
	for i, h := range IncidentExportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(incidentSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(IncidentExportHeader))
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(incidentSheet, "A1", lastCol+"1", headerStyle); err != nil {
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}

	for i, width := range incidentColumnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(incidentSheet, col, col, width); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, inc := range incidents {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		description := ""
		if inc.Description != nil {
			description = *inc.Description
		}
		row := []interface{}{
			inc.ID,
			inc.Location,
			inc.IncidentType,
			inc.Severity,
			description,
			inc.ReportedAt.UTC().Format(time.RFC3339),
		}
		if err := f.SetSheetRow(incidentSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write incident %d: %w", inc.ID, err)
		}
	}

	if err := f.SetPanes(incidentSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
