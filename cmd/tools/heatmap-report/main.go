// Command heatmap-report rebuilds a recorded session's attention heatmap and
// renders it as an interactive HTML chart and a static PNG.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/refgaze-data/refgaze/internal/heatmap"
	"github.com/refgaze-data/refgaze/internal/record"
)

var (
	dbPath    = flag.String("db", "refgaze.db", "session database path")
	sessionID = flag.String("session", "", "session to render (required)")
	outDir    = flag.String("out", "report", "output directory")
	sigma     = flag.Float64("sigma", 0, "kernel sigma override; 0 keeps the default")
	bin       = flag.Int("bin", 8, "downsample bucket size in pixels for rendering")
)

func main() {
	flag.Parse()
	if *sessionID == "" {
		log.Fatal("-session is required")
	}
	if *bin < 1 {
		*bin = 1
	}

	store, err := record.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open session database: %v", err)
	}
	defer store.Close()

	info, err := findSession(store, *sessionID)
	if err != nil {
		log.Fatal(err)
	}
	entries, err := store.ReadEntries(*sessionID)
	if err != nil {
		log.Fatalf("failed to read session: %v", err)
	}

	snap, deposits, err := rebuild(info, entries)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("session %s: %d entries, %d heatmap deposits", *sessionID, len(entries), deposits)

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("failed to create output dir: %v", err)
	}

	htmlPath := filepath.Join(*outDir, "heatmap.html")
	if err := renderHTML(htmlPath, info, snap); err != nil {
		log.Fatalf("failed to render HTML: %v", err)
	}
	pngPath := filepath.Join(*outDir, "heatmap.png")
	if err := renderPNG(pngPath, snap); err != nil {
		log.Fatalf("failed to render PNG: %v", err)
	}
	log.Printf("wrote %s and %s", htmlPath, pngPath)
}

func findSession(store *record.Store, id string) (record.SessionInfo, error) {
	sessions, err := store.Sessions()
	if err != nil {
		return record.SessionInfo{}, fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, s := range sessions {
		if s.ID == id {
			if s.ReferenceW <= 0 || s.ReferenceH <= 0 {
				return record.SessionInfo{}, fmt.Errorf("session %s has no reference dimensions", id)
			}
			return s, nil
		}
	}
	return record.SessionInfo{}, fmt.Errorf("session %s not found", id)
}

// rebuild replays the recorded mapped samples onto a fresh cumulative surface.
func rebuild(info record.SessionInfo, entries []record.Entry) (heatmap.Snapshot, int64, error) {
	cfg := heatmap.DefaultConfig()
	cfg.Policy = heatmap.PolicyCumulative
	if *sigma > 0 {
		cfg.Sigma = *sigma
	}
	surface, err := heatmap.NewSurface(info.ReferenceW, info.ReferenceH, cfg)
	if err != nil {
		return heatmap.Snapshot{}, 0, err
	}
	for _, e := range entries {
		if e.Mapped == nil || !e.Mapped.Valid {
			continue
		}
		surface.Deposit(e.Mapped.RefX, e.Mapped.RefY, e.Mapped.Confidence, e.Nanos)
	}
	snap := surface.Snapshot()
	return snap, snap.Deposits, nil
}

// bucket sums the snapshot into bin x bin cells for rendering.
func bucket(snap heatmap.Snapshot, binSize int) (cols, rows int, vals []float64, maxVal float64) {
	cols = (snap.W + binSize - 1) / binSize
	rows = (snap.H + binSize - 1) / binSize
	vals = make([]float64, cols*rows)
	for y := 0; y < snap.H; y++ {
		for x := 0; x < snap.W; x++ {
			v := snap.Weights[y*snap.W+x]
			if v == 0 {
				continue
			}
			i := (y/binSize)*cols + x/binSize
			vals[i] += v
			if vals[i] > maxVal {
				maxVal = vals[i]
			}
		}
	}
	return cols, rows, vals, maxVal
}

func renderHTML(path string, info record.SessionInfo, snap heatmap.Snapshot) error {
	cols, rows, vals, maxVal := bucket(snap, *bin)

	data := make([]opts.ScatterData, 0, cols*rows)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := vals[r*cols+c]
			if v == 0 {
				continue
			}
			x := float64(c**bin) + float64(*bin)/2
			// Flip so the chart matches image orientation.
			y := float64(snap.H) - (float64(r**bin) + float64(*bin)/2)
			data = append(data, opts.ScatterData{Value: []interface{}{x, y, v}})
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Gaze Heatmap", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Gaze Attention Heatmap", Subtitle: fmt.Sprintf("session=%s entries=%d deposits=%d", info.ID, info.Entries, snap.Deposits)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: snap.W, Name: "X (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: snap.H, Name: "Y (px)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxVal),
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#3e4989", "#26828e", "#35b779", "#b5de2b", "#fde725"}},
		}),
	)
	scatter.AddSeries("attention", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return scatter.Render(f)
}

// heatGrid adapts the bucketed surface to gonum/plot's GridXYZ.
type heatGrid struct {
	cols, rows, binSize int
	vals                []float64
}

func (g heatGrid) Dims() (int, int) { return g.cols, g.rows }
func (g heatGrid) X(c int) float64  { return float64(c*g.binSize) + float64(g.binSize)/2 }
func (g heatGrid) Y(r int) float64  { return float64(r*g.binSize) + float64(g.binSize)/2 }

// Z flips rows so the plot matches image orientation.
func (g heatGrid) Z(c, r int) float64 { return g.vals[(g.rows-1-r)*g.cols+c] }

func renderPNG(path string, snap heatmap.Snapshot) error {
	cols, rows, vals, _ := bucket(snap, *bin)

	p := plot.New()
	p.Title.Text = "Gaze Attention Heatmap"
	p.X.Label.Text = "X (px)"
	p.Y.Label.Text = "Y (px)"

	grid := heatGrid{cols: cols, rows: rows, binSize: *bin, vals: vals}
	hm := plotter.NewHeatMap(grid, moreland.SmoothBlueRed().Palette(255))
	p.Add(hm)

	return p.Save(8*vg.Inch, 8*vg.Inch, path)
}
