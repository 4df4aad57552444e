package audit

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const maxSheetName = 31

// Workbook writes report sheets row by row through excelize.
type Workbook struct {
	file      *excelize.File
	sheet     string
	row       int
	boldStyle int
	moneyFmt  int
}

func NewWorkbook() (*Workbook, error) {
	f := excelize.NewFile()
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("header style: %w", err)
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("money style: %w", err)
	}
	return &Workbook{file: f, boldStyle: bold, moneyFmt: money}, nil
}

// AddSheet starts a new sheet; the first call reuses the default one.
func (w *Workbook) AddSheet(name string) error {
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	if w.sheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	w.sheet = name
	w.row = 1
	return nil
}

func (w *Workbook) WriteHeader(columns []string) error {
	if err := w.writeRow(toAny(columns)); err != nil {
		return err
	}
	first, _ := excelize.CoordinatesToCellName(1, w.row-1)
	last, _ := excelize.CoordinatesToCellName(len(columns), w.row-1)
	if err := w.file.SetCellStyle(w.sheet, first, last, w.boldStyle); err != nil {
		return err
	}
	return w.file.SetPanes(w.sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// WriteRow writes values left to right. Money values are formatted as amounts.
func (w *Workbook) WriteRow(values []any) error {
	return w.writeRow(values)
}

func (w *Workbook) writeRow(values []any) error {
	if w.sheet == "" {
		return fmt.Errorf("no active sheet")
	}
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, w.row)
		if err != nil {
			return err
		}
		if m, ok := v.(Money); ok {
			if err := w.file.SetCellFloat(w.sheet, cell, m.Major(), 2, 64); err != nil {
				return err
			}
			if err := w.file.SetCellStyle(w.sheet, cell, cell, w.moneyFmt); err != nil {
				return err
			}
			continue
		}
		if err := w.file.SetCellValue(w.sheet, cell, v); err != nil {
			return err
		}
	}
	w.row++
	return nil
}

// Rows reports how many data rows follow the header on the current sheet.
func (w *Workbook) Rows() int {
	if w.row <= 2 {
		return 0
	}
	return w.row - 2
}

func (w *Workbook) Save(out io.Writer) error {
	return w.file.Write(out)
}

func (w *Workbook) SaveToFile(path string) error {
	return w.file.SaveAs(path)
}

func (w *Workbook) Close() error {
	return w.file.Close()
}

// Money is an amount in minor units.
type Money int64

func (m Money) Major() float64 {
	return float64(m) / 100
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
