package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/merenda/necessity-workflow/workflow"
)

// CSV writes manifests as semicolon-separated Windows-1252 text, the format
// spreadsheet tools in pt-BR locales open without an import wizard.
type CSV struct{}

func NewCSV() *CSV { return &CSV{} }

func (*CSV) ContentType() string { return "text/csv; charset=windows-1252" }

func (*CSV) Extension() string { return ".csv" }

func (c *CSV) Export(ctx context.Context, w io.Writer, m workflow.Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Runes outside Windows-1252 become the SUB byte instead of failing the file.
	enc := encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder()).Writer(w)
	cw := csv.NewWriter(enc)
	cw.Comma = ';'

	var err error
	switch m.Mode {
	case workflow.ModeByGroup:
		err = c.writeGroups(cw, m.Groups)
	default:
		err = c.writeSchools(cw, m.Schools)
	}
	if err != nil {
		return err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

func (c *CSV) writeSchools(cw *csv.Writer, schools []workflow.SchoolManifest) error {
	if err := cw.Write(schoolHeader); err != nil {
		return err
	}
	for _, s := range schools {
		for _, l := range s.Lines {
			if err := cw.Write(lineRecord(l)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *CSV) writeGroups(cw *csv.Writer, groups []workflow.GroupManifest) error {
	if err := cw.Write(groupHeader); err != nil {
		return err
	}
	for _, g := range groups {
		for _, it := range g.Items {
			rec := []string{
				string(g.GroupID), it.Product.Name, it.Product.Unit,
				strconv.FormatInt(it.GenericQuantity, 10), it.OriginQuantity.String(), strconv.Itoa(it.SchoolCount),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func lineRecord(l workflow.ManifestLine) []string {
	return []string{
		l.SchoolName, string(l.RouteID), string(l.GroupID), l.Generic.Name, l.Generic.Unit,
		strconv.FormatInt(l.GenericQuantity, 10), l.Origin.Name, l.Origin.Unit, l.OriginQuantity.String(),
		l.SupplyWeek, l.ConsumptionWeek,
	}
}
