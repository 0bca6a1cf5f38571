// Package export renders delivery manifests as downloadable documents.
package export

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/merenda/necessity-workflow/workflow"
)

const (
	SheetSchools = "Escolas"
	SheetGroups  = "Grupos"
	SheetSources = "Origem"
)

var (
	schoolHeader = []string{
		"Escola", "Rota", "Grupo", "Produto genérico", "Unidade", "Qtd genérica",
		"Produto origem", "Unidade origem", "Qtd origem", "Semana abastecimento", "Semana consumo",
	}
	groupHeader = []string{
		"Grupo", "Produto genérico", "Unidade", "Qtd genérica", "Qtd origem", "Escolas",
	}
)

// XLSX writes manifests as spreadsheets.
type XLSX struct{}

func NewXLSX() *XLSX { return &XLSX{} }

func (*XLSX) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (*XLSX) Extension() string { return ".xlsx" }

// Export writes school manifests to a single sheet, one row per line. Group
// manifests get a summary sheet and a sheet with the lines behind it.
func (x *XLSX) Export(ctx context.Context, w io.Writer, m workflow.Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true, Size: 11},
		Fill:   excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{{Type: "bottom", Color: "000000", Style: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	switch m.Mode {
	case workflow.ModeByGroup:
		err = x.writeGroups(f, headerStyle, m.Groups)
	default:
		err = x.writeSchools(f, headerStyle, m.Schools)
	}
	if err != nil {
		return err
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to drop default sheet: %w", err)
	}
	f.SetActiveSheet(0)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write spreadsheet: %w", err)
	}
	return nil
}

func (x *XLSX) writeSchools(f *excelize.File, headerStyle int, schools []workflow.SchoolManifest) error {
	if _, err := f.NewSheet(SheetSchools); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := writeRow(f, SheetSchools, 1, toAny(schoolHeader)); err != nil {
		return err
	}
	row := 2
	for _, s := range schools {
		for _, l := range s.Lines {
			if err := writeRow(f, SheetSchools, row, lineCells(l)); err != nil {
				return err
			}
			row++
		}
	}
	return finishSheet(f, SheetSchools, headerStyle, len(schoolHeader))
}

func (x *XLSX) writeGroups(f *excelize.File, headerStyle int, groups []workflow.GroupManifest) error {
	if _, err := f.NewSheet(SheetGroups); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetSources); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := writeRow(f, SheetGroups, 1, toAny(groupHeader)); err != nil {
		return err
	}
	if err := writeRow(f, SheetSources, 1, toAny(schoolHeader)); err != nil {
		return err
	}

	row, src := 2, 2
	for _, g := range groups {
		for _, it := range g.Items {
			cells := []any{
				string(g.GroupID), it.Product.Name, it.Product.Unit,
				it.GenericQuantity, it.OriginQuantity.InexactFloat64(), it.SchoolCount,
			}
			if err := writeRow(f, SheetGroups, row, cells); err != nil {
				return err
			}
			row++
		}
		for _, l := range g.Sources {
			if err := writeRow(f, SheetSources, src, lineCells(l)); err != nil {
				return err
			}
			src++
		}
	}
	if err := finishSheet(f, SheetGroups, headerStyle, len(groupHeader)); err != nil {
		return err
	}
	return finishSheet(f, SheetSources, headerStyle, len(schoolHeader))
}

func lineCells(l workflow.ManifestLine) []any {
	return []any{
		l.SchoolName, string(l.RouteID), string(l.GroupID), l.Generic.Name, l.Generic.Unit, l.GenericQuantity,
		l.Origin.Name, l.Origin.Unit, l.OriginQuantity.InexactFloat64(), l.SupplyWeek, l.ConsumptionWeek,
	}
}

func writeRow(f *excelize.File, sheet string, row int, cells []any) error {
	for i, v := range cells {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("failed to write %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func finishSheet(f *excelize.File, sheet string, headerStyle, cols int) error {
	last, err := excelize.ColumnNumberToName(cols)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last+"1", headerStyle); err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", last, 18)
}

func toAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
