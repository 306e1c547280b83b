package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/detctl/detector"
	"github.com/nasa-jpl/detctl/event"
	"github.com/nasa-jpl/detctl/generichttp"
	httpdet "github.com/nasa-jpl/detctl/generichttp/detector"
	"github.com/nasa-jpl/detctl/imgrec"
	"github.com/nasa-jpl/detctl/sdk"
	"github.com/nasa-jpl/detctl/server/middleware/locker"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "detectorsrv.yml"
	k              = koanf.New(".")
)

type recorder struct {
	// Enabled turns on writing of completed captures
	Enabled bool `yaml:"Enabled"`

	// Root is the root folder to write to
	Root string `yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix"`
}

type config struct {
	Addr            string   `yaml:"Addr"`
	Root            string   `yaml:"Root"`
	Mock            bool     `yaml:"Mock"`
	MockDetectors   int      `yaml:"MockDetectors"`
	USBVendorID     uint16   `yaml:"USBVendorID"`
	HeartbeatPeriod string   `yaml:"HeartbeatPeriod"`
	MailboxSize     int      `yaml:"MailboxSize"`
	OpenRetry       string   `yaml:"OpenRetry"`
	ConnectTimeout  string   `yaml:"ConnectTimeout"`
	EventBuffer     int      `yaml:"EventBuffer"`
	Recorder        recorder `yaml:"Recorder"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr:            ":8000",
		Root:            "/",
		Mock:            false,
		MockDetectors:   1,
		USBVendorID:     sdk.DefaultUSBVendorID,
		HeartbeatPeriod: "500ms",
		MailboxSize:     8,
		OpenRetry:       "10s",
		ConnectTimeout:  "30s",
		EventBuffer:     256,
		Recorder:        recorder{Prefix: "capture"},
	}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `detectorsrv exposes control of scientific X-ray detectors over HTTP.
Each detector is driven by its own command queue; captures run in the
background and report progress as server sent events on /events.

Usage:
	detectorsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `detectorsrv is amenable to configuration via its .yml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.

Mock: true replaces the USB bus with MockDetectors simulated detectors.  Use it
to exercise a client without hardware.

HeartbeatPeriod, OpenRetry and ConnectTimeout are durations such as "500ms" or "10s".
A detector that fails to open at startup stays registered as Disconnected and
is retried by its heartbeat.

Recorder.Enabled writes every completed capture to Recorder.Root as FITS files
in yyyy-mm-dd folders.  It may also be changed at runtime through /autowrite.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("detectorsrv version %v\n", Version)
}

func mustDuration(name, s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Fatalf("config %s: %v", name, err)
	}
	return d
}

// connect scans for detectors behind a spinner
func connect(m *detector.Manager, timeout time.Duration) {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           "scanning for detectors",
		StopCharacter:     "✓",
		StopFailCharacter: "✗",
	})
	if err == nil {
		spinner.Start()
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ids, err := m.Connect(ctx)
	if spinner != nil {
		if err != nil {
			spinner.StopFailMessage(fmt.Sprintf("%d detector(s) found, some did not open", len(ids)))
			spinner.StopFail()
		} else {
			spinner.StopMessage(fmt.Sprintf("%d detector(s) found", len(ids)))
			spinner.Stop()
		}
	}
	if err != nil {
		log.Println(err)
	}
}

func run() {
	cfg := config{}
	k.Unmarshal("", &cfg)

	bus := event.NewBus(cfg.EventBuffer)
	log.SetOutput(io.MultiWriter(os.Stderr, event.Writer{Bus: bus}))

	args := cfg.Recorder
	rec := imgrec.New(args.Root, args.Prefix, args.Enabled)

	var driver sdk.Driver
	if cfg.Mock {
		log.Printf("using %d mock detectors", cfg.MockDetectors)
		driver = sdk.NewMockDriver(cfg.MockDetectors)
	} else {
		driver = sdk.USBDriver{VendorID: cfg.USBVendorID}
	}
	m := detector.NewManager(driver, detector.Config{
		HeartbeatPeriod: mustDuration("HeartbeatPeriod", cfg.HeartbeatPeriod),
		MailboxSize:     cfg.MailboxSize,
		OpenRetry:       mustDuration("OpenRetry", cfg.OpenRetry),
		Events:          bus,
		Sink:            rec,
	})
	connect(m, mustDuration("ConnectTimeout", cfg.ConnectTimeout))

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		log.Println("shutting down, closing detectors")
		if err := m.Close(); err != nil {
			log.Println(err)
		}
		os.Exit(0)
	}()

	w := httpdet.NewHTTPManager(m, bus)
	lock := locker.New()
	locker.Inject(w, lock)
	rec.Inject(w)

	// clean up the submux string
	hndlrS := cfg.Root
	hndlrS = generichttp.SubMuxSanitize(hndlrS)
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	mux := chi.NewRouter()
	mux.Use(lock.Check)
	root.Mount(hndlrS, mux)
	w.RT().Bind(mux)
	addr := cfg.Addr + cfg.Root
	log.Println("now listening for requests at ", addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, root))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
