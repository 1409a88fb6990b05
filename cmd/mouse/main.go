// Command myo-mouse drives the pointer from surface EMG. It trains a
// classifier from labelled recordings at start-up, then runs the online
// pipeline against one acquisition source and serves the control API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/myo.mouse/internal/api"
	"github.com/banshee-data/myo.mouse/internal/config"
	"github.com/banshee-data/myo.mouse/internal/db"
	"github.com/banshee-data/myo.mouse/internal/emg"
	"github.com/banshee-data/myo.mouse/internal/emg/l1samples"
	"github.com/banshee-data/myo.mouse/internal/emg/l4classify"
	"github.com/banshee-data/myo.mouse/internal/emg/l5motion"
	"github.com/banshee-data/myo.mouse/internal/emg/network"
	"github.com/banshee-data/myo.mouse/internal/emg/pipeline"
	"github.com/banshee-data/myo.mouse/internal/emg/training"
	"github.com/banshee-data/myo.mouse/internal/emg/visualiser"
	"github.com/banshee-data/myo.mouse/internal/monitoring"
	"github.com/banshee-data/myo.mouse/internal/serialmux"
	"github.com/banshee-data/myo.mouse/internal/version"
)

var (
	configPath = flag.String("config", "", "Pipeline config JSON (defaults to "+config.DefaultConfigPath+" when present)")
	listen     = flag.String("listen", ":8080", "Listen address")
	dbPath     = flag.String("db", "myo_mouse.db", "SQLite database for sessions and decisions (empty disables)")
	autoStart  = flag.Bool("start", true, "Start a session once the model is trained")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	showVer    = flag.Bool("version", false, "Print version and exit")

	// Training
	dataDir   = flag.String("data", "data", "Directory of C_<class>_R_<rep>_emg.csv recordings")
	delimiter = flag.String("delimiter", ",", "Column delimiter of recordings and replays")
	holdout   = flag.Int("holdout", 2, "Repetition scored before going online (-1 skips scoring)")
	refit     = flag.Bool("refit", true, "Refit on every repetition after scoring")

	// Acquisition, exactly one of these
	port      = flag.String("port", "", "Serial port of the EMG armband bridge")
	replay    = flag.String("replay", "", "Replay a CSV recording at the configured sample rate")
	udpListen = flag.String("udp-listen", "", "Receive sample datagrams on this UDP address")
	mqttURL   = flag.String("mqtt", "", "MQTT broker publishing sample rows, e.g. tcp://localhost:1883")
	pcapFile  = flag.String("pcap", "", "Replay sample datagrams from a capture (needs -tags=pcap)")

	baud      = flag.Int("baud", serialmux.DefaultBaudRate, "Baud rate of the serial ports")
	loop      = flag.Bool("loop", false, "Restart the replay at the end of the recording")
	rcvBuf    = flag.Int("udp-rcvbuf", 4<<20, "UDP receive buffer size in bytes")
	mqttTopic = flag.String("mqtt-topic", "myo/emg", "MQTT topic carrying sample rows")
	pcapPort  = flag.Int("pcap-port", 5005, "UDP port of sample datagrams in the capture")

	// Outputs
	hidPort        = flag.String("hid", "", "Serial port of the USB HID pointer bridge (empty discards motion)")
	udpForward     = flag.String("udp-forward", "", "Forward accepted decisions to this UDP address")
	visualiserAddr = flag.String("visualiser", "", "Serve the gRPC decision stream on this address")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version.String("myo-mouse"))
		return
	}
	monitoring.SetDebug(*debug)

	if flag.NArg() > 0 {
		if err := runCommand(flag.Arg(0), flag.Args()[1:]); err != nil {
			log.Fatal(err)
		}
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Print(version.String("myo-mouse"))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trainOpts := training.Options{
		DataDir:    *dataDir,
		Delimiter:  *delimiter,
		HeldOutRep: *holdout,
		RefitAll:   *refit,
	}
	res, err := training.Run(ctx, cfg, trainOpts)
	if err != nil {
		log.Fatalf("failed to train model: %v", err)
	}
	slot := l4classify.NewSlot(res.Model)

	acq, err := openAcquisition(sourceFlags{
		port:      *port,
		replay:    *replay,
		udpListen: *udpListen,
		mqtt:      *mqttURL,
		pcap:      *pcapFile,
	}, sourceOptions{
		baud:      *baud,
		delimiter: *delimiter,
		rateHz:    cfg.GetSampleRateHz(),
		loop:      *loop,
		rcvBuf:    *rcvBuf,
		mqttTopic: *mqttTopic,
		pcapPort:  *pcapPort,
	})
	if err != nil {
		log.Fatalf("failed to open acquisition source: %v", err)
	}
	log.Printf("acquisition source: %s", acq.kind)

	var hid serialmux.SerialMuxInterface
	if *hidPort != "" {
		if hid, err = serialmux.NewRealSerialMux(*hidPort, serialmux.PortOptions{BaudRate: *baud}); err != nil {
			log.Fatalf("failed to open pointer port: %v", err)
		}
	} else {
		hid = serialmux.NewDisabledSerialMux()
	}
	defer hid.Close()
	if err := hid.Initialize(); err != nil {
		log.Fatalf("failed to initialise pointer device: %v", err)
	}

	actuator, err := l5motion.NewIntegrator(l5motion.NewSerialPointer(hid), cfg.GetActuationPeriod(), cfg.GetSmoothing())
	if err != nil {
		log.Fatalf("failed to create actuator: %v", err)
	}

	var database *db.DB
	if *dbPath != "" {
		if database, err = db.NewDB(*dbPath); err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
	}

	buf := l1samples.NewBuffer(cfg.GetBufferCapacity(), cfg.GetChannelCount())

	var sinks []emg.DecisionSink
	if database != nil {
		sinks = append(sinks, database)
	}

	// Create a wait group for the HTTP server, acquisition and output routines
	var wg sync.WaitGroup

	if *udpForward != "" {
		fwd, err := network.NewDecisionForwarder(*udpForward, time.Minute)
		if err != nil {
			log.Fatalf("failed to create decision forwarder: %v", err)
		}
		fwd.Start(ctx)
		defer fwd.Close()
		sinks = append(sinks, fwd)
	}

	if *visualiserAddr != "" {
		vcfg := visualiser.DefaultConfig()
		vcfg.ListenAddr = *visualiserAddr
		pub := visualiser.NewPublisher(vcfg)
		if err := pub.Start(); err != nil {
			log.Fatalf("failed to start visualiser: %v", err)
		}
		defer pub.Stop()
		sinks = append(sinks, pub)
	}

	mgr := pipeline.NewManager(slot, pipeline.ConfigFrom(cfg), pipeline.Deps{
		Buffer:   buf,
		Actuator: actuator,
		Sinks:    sinks,
	}, sessionHook(database, cfg))

	// Serial IO outlives the signal context: the session is stopped first so
	// its final zero command goes out while the ports are still monitored.
	ioCtx, cancelIO := context.WithCancel(context.Background())
	defer cancelIO()
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		mgr.Shutdown()
		cancelIO()
	}()

	// run the monitor routines to manage IO on the serial ports
	for _, m := range []serialmux.SerialMuxInterface{acq.serialEMG, hid} {
		if m == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Monitor(ioCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("failed to monitor serial port: %v", err)
			}
			log.Print("monitor routine terminated")
		}()
	}

	// acquisition routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := acq.source.Run(ctx, buf); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("acquisition stopped: %v", err)
		}
		log.Print("acquisition routine terminated")
	}()

	if *autoStart {
		if p, err := mgr.Start(ctx); err != nil {
			log.Printf("failed to start session: %v", err)
		} else {
			log.Printf("session %s started", p.SessionID())
		}
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(mgr, database)
		if res.Metrics != nil {
			apiServer.SetMetrics(*res.Metrics)
		}
		apiServer.SetRetrainer(slot, retrainer(cfg, trainOpts))
		mux := apiServer.ServeMux()

		// The serial debug pages share fixed names, so only one device
		// gets them; the armband bridge wins.
		if acq.serialEMG != nil {
			acq.serialEMG.AttachAdminRoutes(mux)
		} else {
			hid.AttachAdminRoutes(mux)
		}
		if database != nil {
			if err := database.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach database admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// retrainer refits from the recordings and options used at startup.
func retrainer(cfg *config.PipelineConfig, opts training.Options) api.Retrainer {
	return func(ctx context.Context) (*l4classify.Model, *l4classify.Metrics, error) {
		res, err := training.Run(ctx, cfg, opts)
		if err != nil {
			return nil, nil, err
		}
		return res.Model, res.Metrics, nil
	}
}

// loadConfig reads path, or the canonical defaults file when path is empty
// and that file exists, or falls back to built-in defaults.
func loadConfig(path string) (*config.PipelineConfig, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			return config.EmptyPipelineConfig(), nil
		}
		path = config.DefaultConfigPath
	}
	return config.LoadPipelineConfig(path)
}

// sessionHook records each new session before it starts.
func sessionHook(database *db.DB, cfg *config.PipelineConfig) pipeline.SessionHook {
	if database == nil {
		return nil
	}
	return func(p *pipeline.Pipeline) error {
		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		summary, err := json.Marshal(p.Model().Summary())
		if err != nil {
			return err
		}
		return database.StartSession(db.Session{
			ID:              p.SessionID(),
			StartedAt:       time.Now(),
			FeatureSet:      cfg.GetFeatureSet(),
			WindowSize:      cfg.GetWindowSize(),
			WindowIncrement: cfg.GetWindowIncrement(),
			Threshold:       cfg.GetRejectionThreshold(),
			ModelSummary:    summary,
			Config:          cfgJSON,
		})
	}
}
