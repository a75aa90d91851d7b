package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/muesli/reflow/truncate"
	"github.com/tingold/pyramid"
	"github.com/urfave/cli/v2"
)

// maxCountedCells bounds the grids whose populated tiles info counts.
const maxCountedCells = 1 << 20

func (rt *runtime) infoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Describe the pyramids and mosaics of a store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     storeFlag,
				Aliases:  []string{"s"},
				Usage:    "GeoPackage or GeoTIFF (path or http URL)",
				Required: true,
				EnvVars:  envVars(storeFlag),
			},
		},
		Action: rt.info,
	}
}

func (rt *runtime) info(c *cli.Context) error {
	st, err := rt.openStore(c.String(storeFlag))
	if err != nil {
		return err
	}
	defer st.Close()
	set, err := st.PyramidSet(c.Context)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "set\t%s\n", set.ID)
	fmt.Fprintf(w, "encodings\t%s\n", strings.Join(set.Encodings, ", "))
	if env, crs := set.Envelope(); !crs.IsZero() {
		fmt.Fprintf(w, "envelope\t%v %v in %s\n", env.Min, env.Max, crs)
	}
	for _, p := range set.Pyramids() {
		fmt.Fprintf(w, "\npyramid %s\t%s\n", p.ID, p.CRS)
		fmt.Fprintln(w, "mosaic\tslice\tscale\tgrid\ttile\tsamples\ttiles")
		for _, m := range p.Mosaics() {
			samples := "unknown"
			if m.Model != nil {
				samples = fmt.Sprintf("%d x %s", m.Model.Bands, m.Model.Type)
			}
			fmt.Fprintf(w, "%s\t%s\t%g\t%dx%d\t%dx%d\t%s\t%s\n",
				m.ID, truncate.StringWithTail(m.Slice, 32, "..."), m.Scale,
				m.GridWidth, m.GridHeight, m.TileWidth, m.TileHeight, samples, populated(m))
		}
	}
	return w.Flush()
}

// populated counts the tiles present in m.
func populated(m *pyramid.GridMosaic) string {
	cells := m.GridWidth * m.GridHeight
	if cells > maxCountedCells {
		return "-"
	}
	n := 0
	for row := 0; row < m.GridHeight; row++ {
		for col := 0; col < m.GridWidth; col++ {
			if !m.IsMissing(col, row) {
				n++
			}
		}
	}
	return fmt.Sprintf("%d/%d", n, cells)
}
