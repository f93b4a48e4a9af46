// Command station is the composition root: it loads configuration, opens
// the hardware handles, and wires the session machine, converter driver,
// supervisor, and the domain-stack collaborators (control API, panel,
// MQTT publisher, meter poller, history writer, event scheduler) together
// over golang.org/x/sync/errgroup. Grounded on the teacher's now-removed
// root main.go composition style, generalized from a single-board HAL
// bring-up to this station's task graph.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"periph.io/x/host/v3"

	"github.com/rand12345/beaglebone-v2h/api"
	"github.com/rand12345/beaglebone-v2h/config"
	"github.com/rand12345/beaglebone-v2h/converter"
	"github.com/rand12345/beaglebone-v2h/gpioio"
	"github.com/rand12345/beaglebone-v2h/history"
	"github.com/rand12345/beaglebone-v2h/logging"
	"github.com/rand12345/beaglebone-v2h/meter"
	"github.com/rand12345/beaglebone-v2h/mqttpub"
	"github.com/rand12345/beaglebone-v2h/panel"
	"github.com/rand12345/beaglebone-v2h/scheduler"
	"github.com/rand12345/beaglebone-v2h/session"
	"github.com/rand12345/beaglebone-v2h/supervisor"
	"github.com/rand12345/beaglebone-v2h/telemetry"
)

// runScheduler re-arms a timer for the next scheduled event and issues the
// matching mode command when it fires (spec §5: "Event scheduler |
// next-event | sleep; re-armed on schedule update").
func runScheduler(ctx context.Context, sch *scheduler.Scheduler, sup *supervisor.Supervisor, log *zap.SugaredLogger) error {
	for {
		ev, d, ok := sch.Next(time.Now())
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Minute):
				continue
			}
		}

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			mode := actionToMode(ev.Action)
			if err := sup.SetMode(ctx, mode); err != nil {
				log.Warnw("scheduled mode change failed", "action", ev.Action, "err", err)
			}
		}
	}
}

// runPanelDisplay refreshes the panel's LED bank to reflect the
// supervisor's current mode every second, until ctx is done.
func runPanelDisplay(ctx context.Context, pnl *panel.Panel, sup *supervisor.Supervisor) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = pnl.ShowMode(sup.CurrentMode().Kind)
		}
	}
}

func actionToMode(a scheduler.Action) session.OperationMode {
	switch a {
	case scheduler.ActionCharge:
		return session.OperationMode{Kind: session.ModeCharge}
	case scheduler.ActionDischarge:
		return session.OperationMode{Kind: session.ModeDischarge}
	case scheduler.ActionV2h:
		return session.OperationMode{Kind: session.ModeV2h}
	case scheduler.ActionEco:
		return session.OperationMode{Kind: session.ModeCharge, Params: session.ChargeParameters{Eco: true}}
	default: // ActionSleep
		return session.OperationMode{Kind: session.ModeIdle}
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	fs := config.Flags()
	_ = fs.Parse(os.Args[1:])
	cfgPath, _ := fs.GetString("config")

	cfg, err := config.Load(cfgPath, fs)
	if err != nil {
		println("config load failed:", err.Error())
		return 1
	}

	log, err := logging.New(false)
	if err != nil {
		println("logger init failed:", err.Error())
		return 1
	}
	defer log.Sync()

	if _, err := host.Init(); err != nil {
		log.Fatalw("periph host init failed", "err", err)
	}

	gp, err := gpioio.Open(cfg.Pins)
	if err != nil {
		log.Fatalw("gpio open failed", "err", err)
	}

	tel := &telemetry.Store{}

	sch, err := scheduler.Load(cfg.EventsPath, "")
	if err != nil {
		log.Errorw("scheduler load failed, continuing with no events", "err", err)
		sch = &scheduler.Scheduler{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	mPoller := meter.New(cfg.ModbusAddr, cfg.ModbusUnit, log)
	g.Go(func() error { return mPoller.Run(gctx) })

	hist, err := history.Open(cfg.SQLitePath, tel, log)
	if err != nil {
		log.Errorw("history open failed, continuing without it", "err", err)
	} else {
		g.Go(func() error { return hist.Run(gctx) })
	}

	pub, err := mqttpub.New(cfg.MQTTBroker, cfg.MQTTTopic, tel, log, 5*time.Second)
	if err != nil {
		log.Errorw("mqtt connect failed, continuing without telemetry publish", "err", err)
	} else {
		g.Go(func() error { return pub.Run(gctx) })
	}

	sup := supervisor.New(log, func(modeCh <-chan session.OperationMode) (*session.Machine, *converter.Driver) {
		convCAN, err := converter.NewCANTransport(cfg.ConverterCAN)
		if err != nil {
			log.Fatalw("converter CAN open failed", "err", err)
		}
		drv := converter.NewDriver(convCAN, log, 4)

		chademoCAN, err := converter.NewCANTransport(cfg.ChademoCAN)
		if err != nil {
			log.Fatalw("chademo CAN open failed", "err", err)
		}
		mach := session.New(chademoCAN, gp, drv, tel, log, modeCh)
		return mach, drv
	})

	srv := api.NewServer(log, tel, sch, func(m session.OperationMode) error {
		return sup.SetMode(gctx, m)
	}, sup.CurrentMode)

	httpSrv := &http.Server{Addr: cfg.ControlAPIAddr, Handler: http.HandlerFunc(srv.ServeHTTP)}
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return httpSrv.Close()
	})

	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error { return runScheduler(gctx, sch, sup, log) })

	// Button toggles off the single operator panel button (no separate
	// Boost/OnOff pair, unlike the original's two-button front panel):
	// idle goes to V2h (the original's ONOFFPIN action), anything else
	// returns to idle.
	pnl, err := panel.Open(cfg.PanelI2CBus, cfg.PanelI2CAddr, cfg.PanelButtonPin, func() {
		next := session.OperationMode{Kind: session.ModeV2h}
		if sup.CurrentMode().Kind != session.ModeIdle {
			next = session.OperationMode{Kind: session.ModeIdle}
		}
		if err := sup.SetMode(gctx, next); err != nil {
			log.Warnw("panel button mode change failed", "err", err)
		}
	})
	if err != nil {
		log.Errorw("panel open failed, continuing without it", "err", err)
	} else {
		g.Go(func() error { pnl.Run(gctx); return nil })
		g.Go(func() error { return runPanelDisplay(gctx, pnl, sup) })
	}

	if err := g.Wait(); err != nil {
		log.Errorw("station exited with error", "err", err)
		return 1
	}
	return 0
}
