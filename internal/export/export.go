package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/metadata"
	"gitlab.com/dirk.krummacker/listdata-contacts/pkg/model"
)

// SheetName is the name of the only sheet of an exported workbook.
const SheetName = "Contacts"

// WriteWorkbook writes the contacts as an xlsx workbook to w. There is one column per property,
// in the given order, with the property names as a frozen header row.
func WriteWorkbook(w io.Writer, contacts []model.Contact, props []metadata.DataProperty) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for col, p := range props {
		if err := setCellValue(f, col+1, 1, p.Name); err != nil {
			return err
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(SheetName, name, name, 25); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	if len(props) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(props), 1)
		if err := f.SetCellStyle(SheetName, "A1", last, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}

	for i, contact := range contacts {
		row := i + 2
		for col, p := range props {
			value, _ := contact.Value(p.Name)
			if value == "" {
				continue
			}
			if err := setCellValue(f, col+1, row, value); err != nil {
				return err
			}
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func setCellValue(f *excelize.File, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetCellValue(SheetName, cell, value); err != nil {
		return fmt.Errorf("failed to set cell %s: %w", cell, err)
	}
	return nil
}
