// Command zonecount counts tracked objects entering polygonal zones of a
// camera view. It reads detector output as JSON lines, tracks boxes per
// class, records every crossing in sqlite and serves live counts over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/zonecount/internal/api"
	"github.com/banshee-data/zonecount/internal/config"
	"github.com/banshee-data/zonecount/internal/counting"
	"github.com/banshee-data/zonecount/internal/db"
	"github.com/banshee-data/zonecount/internal/display"
	"github.com/banshee-data/zonecount/internal/feed"
	"github.com/banshee-data/zonecount/internal/pipeline"
	"github.com/banshee-data/zonecount/internal/report"
	"github.com/banshee-data/zonecount/internal/timeutil"
	"github.com/banshee-data/zonecount/internal/version"
	"github.com/banshee-data/zonecount/internal/zones"
)

type options struct {
	configPath  string
	layoutPath  string
	dbPath      string
	listen      string
	input       string
	fps         float64
	boardEvery  int
	boardPeriod time.Duration
	version     bool
	args        []string
}

func parseFlags(args []string, out io.Writer) (*options, error) {
	fs := flag.NewFlagSet("zonecount", flag.ContinueOnError)
	fs.SetOutput(out)
	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "Tuning config JSON (defaults apply when empty)")
	fs.StringVar(&o.layoutPath, "layout", "zones.yaml", "Zone layout YAML")
	fs.StringVar(&o.dbPath, "db", "zonecount.db", "sqlite database path (empty disables persistence)")
	fs.StringVar(&o.listen, "listen", "", "HTTP listen address, e.g. :8080 (empty disables the API)")
	fs.StringVar(&o.input, "input", "-", "Detection feed, one JSON frame per line (- for stdin)")
	fs.Float64Var(&o.fps, "fps", 0, "Stamp frames without timestamps at this frame rate instead of wall time")
	fs.IntVar(&o.boardEvery, "board-every", 0, "Print the zone board every N frames (0 prints it once at the end)")
	fs.DurationVar(&o.boardPeriod, "board-period", 0, "Also print the zone board on this wall-clock period, e.g. 10s")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	envFile := fs.String("env", ".env", "dotenv file with ZONECOUNT_* defaults for unset flags")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := applyEnv(fs, *envFile); err != nil {
		return nil, fmt.Errorf("load %s: %w", *envFile, err)
	}
	if o.fps < 0 {
		return nil, fmt.Errorf("-fps must not be negative")
	}
	if o.boardEvery < 0 {
		return nil, fmt.Errorf("-board-every must not be negative")
	}
	o.args = fs.Args()
	return o, nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("zonecount: %v", err)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	o, err := parseFlags(args, stdout)
	if err != nil {
		return err
	}
	if o.version {
		_, err := fmt.Fprintln(stdout, version.String())
		return err
	}
	if len(o.args) > 0 {
		if o.args[0] != "migrate" {
			return fmt.Errorf("unknown command %q", o.args[0])
		}
		if o.dbPath == "" {
			return errors.New("migrate needs -db")
		}
		return db.RunMigrateCommand(o.args[1:], o.dbPath, stdout)
	}

	cfg := config.EmptyTuningConfig()
	if o.configPath != "" {
		if cfg, err = config.LoadTuningConfig(o.configPath); err != nil {
			return err
		}
	}
	layout, err := zones.Load(o.layoutPath)
	if err != nil {
		return err
	}

	var sink counting.Sink = counting.NopSink{}
	var store api.Store
	var database *db.DB
	if o.dbPath != "" {
		database, err = db.NewDB(o.dbPath)
		if err != nil {
			return err
		}
		defer database.Close()

		ds, err := db.NewDetectionStore(ctx, database, layout.Site, layout.Names(), time.Now())
		if err != nil {
			return err
		}
		ds.ZeroWhenMissing = cfg.GetIntervalZeroWhenMissing()
		log.Printf("recording run %s to %s", ds.RunID(), o.dbPath)
		sink, store = ds, database
	}

	board := display.NewBoard(layout.Names(), cfg.GetDisplayHistory())
	machine := counting.NewMachine(pipeline.MachineOptionsFromTuning(cfg, layout), sink)
	pcfg := pipeline.ConfigFromTuning(cfg, layout, machine)
	pcfg.Observers = []counting.Observer{board, display.LogObserver{}}
	p, err := pipeline.New(pcfg)
	if err != nil {
		return err
	}

	in := stdin
	if o.input != "-" {
		f, err := os.Open(o.input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}
	var clock timeutil.Clock = timeutil.RealClock{}
	if o.fps > 0 {
		clock = timeutil.NewStepClock(time.Now(), timeutil.FrameStep(o.fps))
	}
	reader := feed.NewReader(in, clock)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	if o.listen != "" {
		mux := api.NewServer(p, store, layout.Names()).ServeMux(nil)
		if database != nil {
			// mount the admin debugging routes (tsweb restricts them to
			// loopback and tailnet peers)
			database.AttachAdminRoutes(mux)
		}
		server := &http.Server{
			Addr:    o.listen,
			Handler: api.LoggingMiddleware(mux),
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("HTTP server error: %v", err)
					cancel()
				}
			}()

			<-ctx.Done()
			log.Println("shutting down HTTP server...")
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
			}
		}()
	}

	if o.boardPeriod > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			display.Refresh(ctx, timeutil.RealClock{}, o.boardPeriod, board, stdout)
		}()
	}

	var frames int
	err = feed.Run(ctx, reader, func(f feed.Frame) error {
		// sink warnings are logged by the pipeline and never stop the run
		_, _ = p.ProcessFrame(ctx, f)
		frames++
		if o.boardEvery > 0 && frames%o.boardEvery == 0 {
			return board.Render(stdout)
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		cancel()
		wg.Wait()
		return fmt.Errorf("read feed: %w", err)
	}

	if n := reader.Skipped(); n > 0 {
		log.Printf("skipped %d malformed lines", n)
	}
	if err := board.Render(stdout); err != nil {
		return err
	}
	if database != nil {
		if err := printHeadways(context.WithoutCancel(ctx), database, layout.Names(), stdout); err != nil {
			log.Printf("headway report: %v", err)
		}
	}

	if o.listen != "" && ctx.Err() == nil {
		log.Printf("input finished after %d frames; serving on %s until interrupted", frames, o.listen)
		<-ctx.Done()
	}
	cancel()
	wg.Wait()
	return nil
}

func printHeadways(ctx context.Context, database *db.DB, names []string, w io.Writer) error {
	hs := make([]report.Headway, 0, len(names))
	for _, zone := range names {
		ivs, err := database.Intervals(ctx, zone, time.Time{})
		if err != nil {
			return err
		}
		hs = append(hs, report.Summarise(zone, ivs))
	}
	if _, err := fmt.Fprintln(w, "Headways:"); err != nil {
		return err
	}
	return report.WriteText(w, hs)
}
