// Command povsim runs the device core against in-memory links: frames go to
// the terminal, commands come from a Lua script and/or stdin.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/povpoi/internal/app"
	"github.com/coreman2200/povpoi/internal/config"
	"github.com/coreman2200/povpoi/internal/console"
	"github.com/coreman2200/povpoi/internal/led"
	"github.com/coreman2200/povpoi/internal/preview"
	"github.com/coreman2200/povpoi/internal/protocol"
	"github.com/coreman2200/povpoi/internal/render"
	"github.com/coreman2200/povpoi/internal/script"
	"github.com/coreman2200/povpoi/internal/storage"
	"github.com/coreman2200/povpoi/internal/transport"
)

func main() {
	var (
		configPath  = flag.String("config", "", "optional YAML config")
		scriptPath  = flag.String("script", "", "Lua show script to run")
		interactive = flag.Bool("i", false, "read console commands from stdin")
		addr        = flag.String("addr", "", "preview listen address")
		every       = flag.Int("every", 30, "print every n-th frame")
		quiet       = flag.Bool("quiet", false, "do not print frames")
		linger      = flag.Duration("linger", 2*time.Second, "keep rendering after the script ends")
		dir         = flag.String("storage", "", "directory for the storage opcodes (default: memory)")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	cfg := config.Default()
	if *configPath != "" {
		c, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("config load failed")
		}
		cfg = c
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	l := cfg.Layout()

	rec := led.NewRecorder(l.Count())
	drv := led.Multi{rec}
	if !*quiet {
		c := led.NewConsole(os.Stdout)
		c.Every = *every
		drv = append(drv, c)
	}

	var provider storage.Provider = storage.NewMemory()
	if *dir != "" {
		fs, err := storage.NewFS(*dir)
		if err != nil {
			log.Fatal().Err(err).Msg("storage")
		}
		provider = fs
	}

	limiter := render.DefaultLimiter
	limiter.LimitMA = cfg.Power.LimitMA
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	// operator link: replies are decoded and printed
	link := transport.NewPipe(64)
	core.AddWired("console", link)
	go printReplies(link)

	if *addr != "" {
		input := transport.NewPipe(64)
		core.AddWired("preview", input)
		pv := preview.New(l, "sim", input, core.Snapshot, log.Logger)
		rec.OnFrame = pv.Frame
		go pv.Run(ctx, time.Second)
		srv := &http.Server{Addr: *addr, Handler: pv.Handler()}
		go func() {
			log.Info().Str("addr", *addr).Msg("preview server starting")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("preview server stopped")
			}
		}()
		defer srv.Close()
	}

	done := make(chan struct{})
	go func() {
		_ = core.Run(ctx)
		close(done)
	}()

	if *scriptPath != "" {
		r := script.NewRunner(link, log.Logger)
		if err := r.RunFile(ctx, *scriptPath); err != nil {
			log.Error().Err(err).Msg("script failed")
		} else {
			log.Info().Int("frames_sent", r.Sent).Msg("script finished")
		}
	}
	switch {
	case *interactive:
		if err := console.Run(ctx, os.Stdin, link, os.Stderr); err != nil {
			log.Error().Err(err).Msg("console")
		}
	case *addr != "":
		// preview keeps the simulator alive until interrupted
		<-ctx.Done()
	default:
		select {
		case <-ctx.Done():
		case <-time.After(*linger):
		}
	}
	cancel()
	<-done
	link.Close()
}

func printReplies(p *transport.Pipe) {
	rr := protocol.NewResponseReader(func(r protocol.Response) {
		fmt.Fprintln(os.Stderr, "<", console.Describe(r))
	})
	for b := range p.Output() {
		rr.Write(b)
	}
}
