// Command refgazed runs the gaze mapping daemon: it ingests the capture
// rig's frame and gaze streams, registers frames against a fixed reference
// image, maps gaze into reference coordinates, and serves live snapshots over
// HTTP while recording the session to sqlite.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/refgaze-data/refgaze/internal/aoi"
	"github.com/refgaze-data/refgaze/internal/api"
	"github.com/refgaze-data/refgaze/internal/config"
	"github.com/refgaze-data/refgaze/internal/gaze"
	"github.com/refgaze-data/refgaze/internal/ingest"
	"github.com/refgaze-data/refgaze/internal/monitoring"
	"github.com/refgaze-data/refgaze/internal/pipeline"
	"github.com/refgaze-data/refgaze/internal/record"
	"github.com/refgaze-data/refgaze/internal/registration"
	"github.com/refgaze-data/refgaze/internal/timeutil"
)

var (
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	endpoint      = flag.String("endpoint", "tcp://127.0.0.1:5555", "ZMQ endpoint of the capture rig")
	referencePath = flag.String("reference", "reference.png", "reference image (png or jpeg)")
	regionsPath   = flag.String("regions", "", "AOI regions JSON file (optional)")
	configPath    = flag.String("config", "", "tuning JSON file (optional)")
	dbPath        = flag.String("db", "refgaze.db", "session database path; empty disables recording")
	notes         = flag.String("notes", "", "notes stored with the recorded session")
	simulate      = flag.Bool("simulate", false, "run against a synthetic producer instead of the ZMQ stream")
	verbose       = flag.Bool("verbose", false, "enable debug logging")
)

// producer is satisfied by both the ZMQ subscriber and the simulator.
type producer interface {
	Frames() <-chan registration.Frame
	Gaze() <-chan gaze.RawSample
}

func main() {
	flag.Parse()
	monitoring.SetVerbose(*verbose)

	tuning := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	ref, err := loadGrayscale(*referencePath)
	if err != nil {
		log.Fatalf("failed to load reference image: %v", err)
	}
	log.Printf("reference image %s: %dx%d", *referencePath, ref.W, ref.H)

	defs, err := loadRegions(*regionsPath)
	if err != nil {
		log.Fatalf("failed to load AOI regions: %v", err)
	}

	reg, err := registration.NewRegistrar(ref, tuning.RegistrationConfig())
	if err != nil {
		log.Fatalf("failed to build registrar: %v", err)
	}

	var store *record.Store
	var rec *record.Recorder
	if *dbPath != "" {
		store, err = record.Open(*dbPath)
		if err != nil {
			log.Fatalf("failed to open session database: %v", err)
		}
		defer store.Close()

		sessionID, err := store.CreateSession(time.Now().UnixNano(), ref.W, ref.H, *notes)
		if err != nil {
			log.Fatalf("failed to create session: %v", err)
		}
		log.Printf("recording session %s to %s", sessionID, *dbPath)
		rec = record.NewRecorder(store.Writer(sessionID), tuning.RecorderConfig(), timeutil.RealClock{})
	}

	session, err := pipeline.NewSession(reg, defs, tuning.SessionConfig(ref.W, ref.H), timeutil.RealClock{}, rec)
	if err != nil {
		log.Fatalf("failed to build session: %v", err)
	}
	srv := api.NewServer(session, store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		session.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.Run(ctx)
	}()

	var src producer
	if *simulate {
		sim := ingest.NewSimulator(ref, ingest.DefaultSimulatorConfig(), timeutil.RealClock{})
		src = sim
		wg.Add(1)
		go func() {
			defer wg.Done()
			sim.Run(ctx)
		}()
		log.Print("running with synthetic producer")
	} else {
		sub := ingest.NewSubscriber(*endpoint)
		src = sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sub.Run(ctx); err != nil {
				log.Printf("ingest terminated: %v", err)
				stop()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		forward(ctx, src, session)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:              *listen,
			Handler:           srv.ServeMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("serving on %s", *listen)

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.Close(closeCtx); err != nil {
		log.Printf("session close: %v", err)
	}

	stats := session.Stats()
	log.Printf("session complete: %d samples, %d mapped, %d null, %d frames accepted",
		stats.GazeSamples, stats.MappedValid, stats.NullMappings, stats.Registration.Accepted)
}

// forward pumps producer channels into the session until both close or the
// context ends.
func forward(ctx context.Context, src producer, session *pipeline.Session) {
	frames := src.Frames()
	samples := src.Gaze()
	for frames != nil || samples != nil {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			session.OnFrame(f)
		case s, ok := <-samples:
			if !ok {
				samples = nil
				continue
			}
			session.OnGaze(s)
		}
	}
}

// loadRegions reads the AOI definitions, returning an empty set when no file
// was given.
func loadRegions(path string) ([]aoi.RegionDef, error) {
	if path == "" {
		return nil, nil
	}
	return config.LoadRegions(path)
}

// loadGrayscale decodes an image file and converts it to 8-bit grayscale.
func loadGrayscale(path string) (*registration.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			pix[y*w+x] = g.Y
		}
	}
	return registration.NewImage(w, h, pix)
}
