package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/povpoi/internal/app"
	"github.com/coreman2200/povpoi/internal/config"
	"github.com/coreman2200/povpoi/internal/layout"
	"github.com/coreman2200/povpoi/internal/led"
	"github.com/coreman2200/povpoi/internal/preview"
	"github.com/coreman2200/povpoi/internal/render"
	"github.com/coreman2200/povpoi/internal/selftest"
	"github.com/coreman2200/povpoi/internal/storage"
	"github.com/coreman2200/povpoi/internal/transport"
)

func main() {
	// ---- Flags (config file and POV_* environment take precedence where set) ----
	var (
		configPath = flag.String("config", "povpoi.yaml", "path to the YAML config")
		driver     = flag.String("driver", "", "override driver: apa102 | ws2812 | console | sim")
		addr       = flag.String("addr", "", "override preview listen address")
		test       = flag.String("selftest", string(selftest.Boot), "startup test: boot | index_sweep | rgb_channels | none")
	)
	flag.Parse()

	// ---- Logging ----
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})

	// ---- Config ----
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Warn().Err(err).Str("path", *configPath).Msg("config load failed; using defaults")
		cfg = config.Default()
	}
	if *driver != "" {
		cfg.Driver = *driver
	}
	if *addr != "" {
		cfg.Preview.Addr = *addr
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	l := cfg.Layout()

	// ---- LED sink ----
	sink, selected := openSink(cfg, l)
	rec := led.NewRecorder(l.Count())
	drv := led.Multi{sink, rec}
	defer func() {
		if err := drv.Close(); err != nil {
			log.Warn().Err(err).Msg("closing led sink")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Startup test ----
	kind, err := selftest.Parse(*test)
	if *test == "none" || !cfg.SelfTest {
		kind, err = selftest.None, nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("skipping self-test")
	} else if err := selftest.Run(ctx, kind, l, drv, cfg.Brightness, 10*time.Millisecond, 500*time.Millisecond); err != nil {
		log.Warn().Err(err).Str("test", string(kind)).Msg("self-test failed")
	}

	// ---- Storage ----
	var provider storage.Provider = storage.NewMemory()
	if cfg.Storage.Dir != "" {
		fs, err := storage.NewFS(cfg.Storage.Dir)
		if err != nil {
			log.Warn().Err(err).Str("dir", cfg.Storage.Dir).Msg("storage unavailable; keeping images in memory")
		} else {
			provider = fs
		}
	}

	// ---- Core ----
	limiter := render.DefaultLimiter
	limiter.LimitMA = cfg.Power.LimitMA
	if cfg.Power.ChanMA > 0 {
		limiter.ChanMA = cfg.Power.ChanMA
	}
	core, err := app.NewCore(app.Options{
		Layout:      l,
		Driver:      drv,
		Storage:     provider,
		Limiter:     limiter,
		Brightness:  cfg.Brightness,
		FramePeriod: cfg.FramePeriod(),
		AutoCycle:   cfg.AutoCycle(),
		Timeout:     cfg.Timeout(),
		Log:         log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("core init failed")
	}

	for _, p := range []struct {
		name     string
		cfg      config.Serial
		wireless bool
	}{
		{"wired", cfg.Serial, false},
		{"ble", cfg.BLE, true},
	} {
		if p.cfg.Dev == "" {
			continue
		}
		port, err := transport.OpenSerial(p.cfg.Dev, p.cfg.Baud)
		if err != nil {
			log.Warn().Err(err).Str("link", p.name).Str("dev", p.cfg.Dev).Int("baud", p.cfg.Baud).Msg("serial open failed; link disabled")
			continue
		}
		defer port.Close()
		if p.wireless {
			core.AddWireless(p.name, port)
		} else {
			core.AddWired(p.name, port)
		}
		log.Info().Str("link", p.name).Str("dev", p.cfg.Dev).Int("baud", p.cfg.Baud).Msg("serial link open")
	}

	// ---- Preview ----
	var srv *http.Server
	if cfg.Preview.Addr != "" {
		input := transport.NewPipe(64)
		core.AddWired("preview", input)
		pv := preview.New(l, selected, input, core.Snapshot, log.Logger)
		rec.OnFrame = pv.Frame
		go pv.Run(ctx, time.Second)

		srv = &http.Server{
			Addr:         cfg.Preview.Addr,
			Handler:      pv.Handler(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.Preview.Addr).Str("driver", selected).Msg("preview server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("preview server stopped")
			}
		}()
	}

	// ---- Graceful shutdown ----
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		s := <-ch
		log.Info().Str("signal", s.String()).Msg("shutting down")
		cancel()
	}()

	_ = core.Run(ctx)
	if srv != nil {
		_ = srv.Close()
	}
}

// openSink opens the configured strip, falling back to the simulated sink
// when the hardware is unavailable.
func openSink(cfg *config.Config, l layout.Layout) (led.Driver, string) {
	switch cfg.Driver {
	case "apa102", "ws2812":
		drv, err := led.OpenSPI(led.SPIOptions{
			Port:  cfg.SPI.Dev,
			Chip:  led.Chip(cfg.Driver),
			Count: l.Count(),
			Speed: physic.Frequency(cfg.SPI.SpeedHz) * physic.Hertz,
		})
		if err != nil {
			log.Warn().Err(err).
				Str("driver", cfg.Driver).
				Str("dev", cfg.SPI.Dev).
				Int("speed_hz", cfg.SPI.SpeedHz).
				Msg("SPI init failed; falling back to SIM")
			return led.NewRecorder(l.Count()), "sim"
		}
		return drv, cfg.Driver
	case "console":
		c := led.NewConsole(os.Stdout)
		// one line per second at the default frame period
		c.Every = max(1, int(time.Second/cfg.FramePeriod()))
		return c, "console"
	default:
		return led.NewRecorder(l.Count()), "sim"
	}
}
