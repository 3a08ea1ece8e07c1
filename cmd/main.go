package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"mag-logger/controller"
	"mag-logger/services/buffer"
	"mag-logger/services/ingest"
	"mag-logger/services/publish"
	"mag-logger/services/render"
	"mag-logger/utils"
	"mag-logger/views"
)

var cfg *utils.Config

func main() {
	app := &cli.App{
		Name:    "maglogger",
		Usage:   "log, monitor and plot a 3-axis magnetometer on a serial port",
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to maglogger.yaml (built-in defaults when empty)",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "optional log file path (stdout is always included)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
				Value: "info",
			},
		},
		Before: setup,
		After: func(*cli.Context) error {
			utils.L().Close()
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "stream",
				Usage:  "read the sensor and show the live readout without logging",
				Flags:  acquisitionFlags(),
				Action: func(c *cli.Context) error { return runAcquisition(c, false, c.String("http")) },
			},
			{
				Name:   "log",
				Usage:  "read the sensor and append every reading to the log",
				Flags:  acquisitionFlags(),
				Action: func(c *cli.Context) error { return runAcquisition(c, true, c.String("http")) },
			},
			{
				Name:  "monitor",
				Usage: "read the sensor and serve the live readout over websocket",
				Flags: append(acquisitionFlags(),
					&cli.BoolFlag{Name: "persist", Usage: "also append readings to the log"},
				),
				Action: func(c *cli.Context) error {
					addr := c.String("http")
					if addr == "" {
						addr = cfg.Monitor.HTTPAddr
					}
					if addr == "" {
						addr = ":8080"
					}
					return runAcquisition(c, c.Bool("persist"), addr)
				},
			},
			{
				Name:      "plot",
				Usage:     "render a stored log to an image",
				ArgsUsage: "[log.csv]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "detail", Aliases: []string{"d"}, Value: "low", Usage: "low, medium or high"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "magnetic_field.png", Usage: "output image (.png, .svg, .pdf)"},
				},
				Action: runPlot,
			},
			{
				Name:      "fake",
				Usage:     "write a synthetic log for exercising the renderer",
				ArgsUsage: "[out.csv]",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "duration", Value: time.Hour, Usage: "span of the fake log"},
					&cli.Float64Flag{Name: "rate", Value: 80, Usage: "sample rate in Hz"},
					&cli.Int64Flag{Name: "seed", Usage: "random seed (time based when 0)"},
				},
				Action: runFake,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		utils.L().WithError(err).Error("maglogger failed")
		os.Exit(1)
	}
}

func acquisitionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "port", Aliases: []string{"p"}, Usage: "serial port, e.g. /dev/ttyACM0 or COM3"},
		&cli.BoolFlag{Name: "simulate", Usage: "use a simulated sensor instead of a serial port"},
		&cli.DurationFlag{Name: "duration", Usage: "stop after this long (0 runs until interrupted)"},
		&cli.StringFlag{Name: "http", Usage: "serve the live readout on this address, e.g. :8080"},
	}
}

func setup(c *cli.Context) error {
	if _, err := utils.InitLogger(c.String("log-level"), c.String("log-file")); err != nil {
		return err
	}

	utils.L().Info("═══════════════════════════════════════════════════")
	utils.L().Info("  maglogger  ·  3-axis magnetometer logger")
	utils.L().Infof("  GOMAXPROCS=%d  ·  PID=%d", runtime.GOMAXPROCS(0), os.Getpid())
	utils.L().Info("═══════════════════════════════════════════════════")

	var err error
	cfg, err = utils.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return nil
}

func runAcquisition(c *cli.Context, persist bool, httpAddr string) error {
	if c.Bool("simulate") {
		cfg.Simulation.Enabled = true
	}
	port := c.String("port")
	if port == "" {
		port = cfg.Serial.Port
	}

	var opener ingest.PortOpener
	if cfg.Simulation.Enabled {
		opener = ingest.SimOpener{RateHz: cfg.Simulation.RateHz, CorruptRate: cfg.Simulation.CorruptRate}
		if port == "" {
			port = "sim0"
		}
	} else {
		opener = ingest.SerialOpener{
			Baud:        cfg.Serial.BaudRate,
			ReadTimeout: utils.Millis(cfg.Serial.ReadTimeoutMs),
		}
	}
	if port == "" {
		return cli.Exit("no serial port given (use --port or serial.port in the config)", 2)
	}

	// ── Pipeline assembly ────────────────────────────────────────────
	//
	//  serial port ──► MagReader ──► RingBuffer ──► MonitorController ──► console / websocket
	//                     │    └──► MQTT (optional)
	//                     └──► RecordingController ──► log CSV (log mode)

	buf := buffer.NewRingBuffer(cfg.Buffer.Capacity)

	var pub controller.Publisher
	if cfg.MQTT.Enabled {
		p, err := publish.NewMQTTPublisher(cfg.MQTT)
		if err != nil {
			return err
		}
		defer p.Close()
		pub = p
	}

	sessions := controller.NewSessionController(cfg, buf, opener, pub)

	outputs := []controller.View{views.NewConsoleView()}
	var hub *views.WSHub
	if httpAddr != "" {
		hub = views.NewWSHub()
		outputs = append(outputs, hub)
	}
	monitor := controller.NewMonitorController(buf, utils.Millis(cfg.Monitor.IntervalMs), cfg.Monitor.MaxPoints, outputs...)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := c.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
		utils.L().Infof("acquisition will auto-stop after %s", d)
	}

	s, err := sessions.Start(port, persist)
	if err != nil {
		return err
	}
	monitor.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if hub != nil {
		srv = &http.Server{Addr: httpAddr, Handler: hub.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			utils.L().Infof("live readout on ws://%s/ws", httpAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-s.Done():
			return s.Err()
		}
	})

	// Shutdown: monitor first so no tick reaches a closing view, then the
	// session with its bounded join, then the outer surfaces.
	g.Go(func() error {
		<-gctx.Done()
		utils.L().Info("shutting down…")
		monitor.Stop()
		err := sessions.Stop(s)
		if hub != nil {
			hub.Close()
		}
		if srv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}
		return err
	})

	utils.L().Info("pipeline running — press Ctrl+C to stop")
	err = g.Wait()

	st := s.Stats()
	utils.L().Infof("session %s: lines=%d produced=%d malformed=%d persisted=%d",
		s.ID, st.Lines, st.Produced, st.Malformed, st.Persisted)
	if persist {
		fmt.Println("\n✓ maglogger finished. Log at:", cfg.Storage.LogPath)
	}
	return err
}

func runPlot(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = cfg.Storage.LogPath
	}
	level, err := render.ParseDetailLevel(c.String("detail"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	series, err := render.NewRenderer(render.OptionsFromConfig(cfg.Render)).Render(path, level)
	if err != nil {
		return err
	}
	out := c.String("out")
	if err := views.SavePlotPNG(series, out, cfg.Render.PlotWidthInches, cfg.Render.PlotHeightInches); err != nil {
		return err
	}
	fmt.Printf("\n✓ %s: %d rows (%d dropped), stride %d, window %d → %s\n",
		path, series.RowsLoaded, series.RowsDropped, series.Stride, series.Window, out)
	return nil
}

func runFake(c *cli.Context) error {
	out := c.Args().First()
	if out == "" {
		out = "fake_sensor_data.csv"
	}
	seed := c.Int64("seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	n, err := views.WriteFakeLog(out, views.FakeLogOptions{
		Duration: c.Duration("duration"),
		RateHz:   c.Float64("rate"),
		Seed:     seed,
	})
	if err != nil {
		return err
	}
	fmt.Printf("\n✓ wrote %d rows to %s\n", n, out)
	return nil
}
