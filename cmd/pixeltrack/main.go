// Command pixeltrack inspects, stores and plots pixel local tracks read
// from JSON event files.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/pixeltrack/internal/config"
	"github.com/banshee-data/pixeltrack/internal/monitoring"
	"github.com/banshee-data/pixeltrack/internal/pixeltrack"
	"github.com/banshee-data/pixeltrack/internal/quality"
	"github.com/banshee-data/pixeltrack/internal/report"
	"github.com/banshee-data/pixeltrack/internal/storage/sqlite"
	"github.com/banshee-data/pixeltrack/internal/trackio"
	"github.com/banshee-data/pixeltrack/internal/version"
)

const usage = `usage: pixeltrack <command> [flags]

commands:
  import       store tracks from an event file in the sqlite track store
  summary      apply quality cuts and print fit and pull statistics
  extrapolate  print track points and their covariance at given z planes
  plot         write pull histograms and x-z and y-z projections
  version      print build information
`

var errUsage = errors.New("invalid usage")

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("pixeltrack: ")

	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		log.Fatalf("%v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "import":
		return runImport(rest, stdout)
	case "summary":
		return runSummary(rest, stdout)
	case "extrapolate":
		return runExtrapolate(rest, stdout)
	case "plot":
		return runPlot(rest, stdout)
	case "version":
		fmt.Fprintln(stdout, version.String("pixeltrack"))
		return nil
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

// commonFlags registers the flags every data command takes.
type commonFlags struct {
	in         string
	configPath string
	debug      bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.in, "in", "", "path to JSON event file (required)")
	fs.StringVar(&c.configPath, "config", "", "path to tracking config JSON (defaults when empty)")
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging")
}

// load reads the config and the event file.
func (c *commonFlags) load() (*config.TrackingConfig, []*pixeltrack.LocalTrack, error) {
	if c.in == "" {
		return nil, nil, fmt.Errorf("-in is required: %w", errUsage)
	}

	cfg := config.EmptyTrackingConfig()
	if c.configPath != "" {
		var err error
		cfg, err = config.LoadTrackingConfig(c.configPath)
		if err != nil {
			return nil, nil, err
		}
	}
	monitoring.SetDebug(c.debug || cfg.GetLogDebug())

	tracks, err := trackio.ReadFile(c.in)
	if err != nil {
		return nil, nil, err
	}
	monitoring.Logf("loaded %d tracks from %s", len(tracks), c.in)
	return cfg, tracks, nil
}

func runImport(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	dbPath := fs.String("db", "", "sqlite database path (config db_path when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, tracks, err := common.load()
	if err != nil {
		return err
	}
	path := *dbPath
	if path == "" {
		path = cfg.GetDBPath()
	}

	store, err := sqlite.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	for i, t := range tracks {
		id, err := store.InsertTrack(ctx, t)
		if err != nil {
			return fmt.Errorf("track %d: %w", i, err)
		}
		fmt.Fprintln(stdout, id)
	}
	monitoring.Logf("stored %d tracks in %s", len(tracks), path)
	return nil
}

type summaryOutput struct {
	Selection quality.Selection      `json:"selection"`
	Accepted  int                    `json:"accepted"`
	Rejected  map[quality.Reason]int `json:"rejected"`
	Run       *quality.RunSummary    `json:"run"`
	Pulls     *quality.PullSummary   `json:"pulls"`
}

func runSummary(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("summary", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	asJSON := fs.Bool("json", false, "print the summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, tracks, err := common.load()
	if err != nil {
		return err
	}

	sel := quality.SelectionFromConfig(cfg)
	accepted, rejected := quality.Filter(tracks, sel)
	out := summaryOutput{
		Selection: sel,
		Accepted:  len(accepted),
		Rejected:  rejected,
		Run:       quality.ComputeRunSummary(tracks),
		Pulls:     quality.ComputePullSummary(accepted),
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(stdout, "tracks: %d (valid %d), accepted %d\n", out.Run.Tracks, out.Run.ValidTracks, out.Accepted)
	for reason, n := range out.Rejected {
		fmt.Fprintf(stdout, "  rejected %-16s %d\n", reason, n)
	}
	fmt.Fprintf(stdout, "mean chi2/ndf: %.3f over %d tracks, median ndf %d\n",
		out.Run.MeanChi2OverNDF, out.Run.PositiveNDFTracks, out.Run.MedianNDF)
	fmt.Fprintf(stdout, "pull x: mean %.3f sd %.3f | pull y: mean %.3f sd %.3f (%d hits)\n",
		out.Pulls.PullX.Mean, out.Pulls.PullX.StdDev, out.Pulls.PullY.Mean, out.Pulls.PullY.StdDev, out.Pulls.Hits)
	if out.Run.CounterMismatches > 0 {
		fmt.Fprintf(stdout, "warning: %d tracks with inconsistent used-for-fit counters\n", out.Run.CounterMismatches)
	}
	return nil
}

func parseZList(s string) ([]float64, error) {
	var zs []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		z, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid z %q: %w", part, err)
		}
		zs = append(zs, z)
	}
	return zs, nil
}

func runExtrapolate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("extrapolate", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	zFlag := fs.String("z", "", "comma separated z planes in mm (config station_z_mm when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, tracks, err := common.load()
	if err != nil {
		return err
	}
	zs := cfg.GetStationZMM()
	if *zFlag != "" {
		if zs, err = parseZList(*zFlag); err != nil {
			return err
		}
	}

	for i, t := range tracks {
		d := t.DirectionVector()
		fmt.Fprintf(stdout, "track %d: z0=%.3f x0=%.4f±%.4f y0=%.4f±%.4f dir=(%.6f, %.6f, %.6f)\n",
			i, t.Z0(), t.X0(), t.X0Sigma(), t.Y0(), t.Y0Sigma(), d.X, d.Y, d.Z)
		for _, z := range zs {
			p := t.TrackPoint(z)
			c := t.TrackPointInterpolationCovariance(z)
			fmt.Fprintf(stdout, "  z=%.3f x=%.4f y=%.4f cov=[[%.3g %.3g] [%.3g %.3g]]\n",
				z, p.X, p.Y, c.At(0, 0), c.At(0, 1), c.At(1, 0), c.At(1, 1))
		}
	}
	return nil
}

func runPlot(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	outDir := fs.String("out", "plots", "output directory")
	samples := fs.Int("samples", 25, "points drawn along each fitted line")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, tracks, err := common.load()
	if err != nil {
		return err
	}

	written, err := report.WritePullHistograms(tracks, *outDir, report.HistogramOptionsFromConfig(cfg))
	if err != nil {
		return err
	}

	lo, hi := zRange(tracks)
	htmlPath := filepath.Join(*outDir, "projections.html")
	f, err := os.Create(htmlPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", htmlPath, err)
	}
	if err := report.RenderProjections(f, tracks, report.SampleZ(lo, hi, *samples)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	for _, p := range append(written, htmlPath) {
		fmt.Fprintln(stdout, p)
	}
	return nil
}

// zRange spans z0 of every track and the z of every hit.
func zRange(tracks []*pixeltrack.LocalTrack) (lo, hi float64) {
	first := true
	extend := func(z float64) {
		if first {
			lo, hi, first = z, z, false
			return
		}
		if z < lo {
			lo = z
		}
		if z > hi {
			hi = z
		}
	}
	for _, t := range tracks {
		extend(t.Z0())
		t.Hits().Each(func(_ uint32, h pixeltrack.FittedRecHit) bool {
			extend(h.GlobalCoordinates().Z)
			return true
		})
	}
	return lo, hi
}
