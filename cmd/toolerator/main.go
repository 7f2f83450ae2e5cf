// toolerator is the host daemon for lathe turret tool changers.
// It loads the turret configuration, runs the servo loop that drives
// the step pulse generators and tool change sequencers, and exposes
// Prometheus metrics and a WebSocket status monitor.
//
// Usage:
//
//	toolerator -config /etc/toolerator.cfg [options]
//
// Options:
//
//	-config string    Turret configuration file (required)
//	-monitor string   Status monitor address (default ":8080", empty disables)
//	-metrics string   Prometheus metrics address (default ":9100", empty disables)
//	-logfile string   Log file path, rotated at 10 MB (default: stderr)
//
// Examples:
//
//	# Start with default monitor and metrics ports
//	toolerator -config /etc/toolerator.cfg
//
//	# Metrics only, no status monitor
//	toolerator -config /etc/toolerator.cfg -monitor ""
//
// SIGHUP reloads the configuration file; turrets that are moving or
// homing keep their old settings. SIGINT and SIGTERM shut down.
//
// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"toolerator-go/pkg/config"
	"toolerator-go/pkg/log"
	"toolerator-go/pkg/metrics"
	"toolerator-go/pkg/monitor"
	"toolerator-go/pkg/safety"
	"toolerator-go/pkg/servo"
)

func main() {
	configFile := flag.String("config", "", "Turret configuration file (required)")
	monitorAddr := flag.String("monitor", ":8080", "Status monitor address (empty disables)")
	metricsAddr := flag.String("metrics", ":9100", "Prometheus metrics address (empty disables)")
	logFile := flag.String("logfile", "", "Log file path (default: stderr)")
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -config is required\n")
		flag.Usage()
		os.Exit(1)
	}

	if *logFile != "" {
		w, err := log.NewRotatingFileWriter(log.RotationConfig{
			Filename: *logFile,
			MaxSize:  10,
			Compress: true,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer w.Close()
		base := log.New("toolerator")
		base.SetWriter(w)
		log.SetDefaultLogger(base)
	}

	logger := log.GetLogger("main")
	logger.Info("========================================")
	logger.Info("Toolerator Host Starting")
	logger.Info("========================================")

	if err := run(*configFile, *monitorAddr, *metricsAddr, logger); err != nil {
		logger.WithError(err).Error("startup failed")
		os.Exit(1)
	}
}

func run(configFile, monitorAddr, metricsAddr string, logger *log.Logger) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	ss, err := config.LoadServoSettings(cfg)
	if err != nil {
		return err
	}
	logger.WithFields(log.Fields{
		"config":          configFile,
		"clock_frequency": ss.ClockFrequency,
		"tick_budget":     ss.TickBudget,
	}).Info("configuration loaded")

	turretSections := cfg.GetPrefixSectionNames("turret ")
	if len(turretSections) == 0 {
		return fmt.Errorf("no [turret NAME] sections in %s", configFile)
	}
	if len(turretSections) > config.MaxTurrets {
		return fmt.Errorf("%d turret sections configured, at most %d supported",
			len(turretSections), config.MaxTurrets)
	}

	tm := metrics.NewTooleratorMetrics()
	d := newDaemon()

	registry := config.NewRegistry()
	registry.RegisterWithPrefix("turret ", func(sec *config.Section) (config.Module, error) {
		return newTurretUnit(sec, ss, tm)
	})
	modules, err := registry.LoadModules(cfg)
	if err != nil {
		return err
	}
	for _, mod := range modules {
		d.addUnit(mod.(*turretUnit))
	}

	// Force-disable every turret if the servo loop stops heartbeating.
	sm := safety.New()
	d.safety = sm
	for _, name := range d.AxisNames() {
		u, err := d.unit(name)
		if err != nil {
			return err
		}
		sm.RegisterTurret(u)
	}
	sm.OnShutdown(func(reason safety.ShutdownReason, msg string) {
		entry := logger.WithFields(log.Fields{"reason": reason, "msg": msg})
		if reason == safety.ReasonUserRequest {
			entry.Info("turrets disabled")
		} else {
			entry.Error("safety shutdown, turrets disabled")
		}
		tm.RecordError("safety_" + string(reason))
	})
	sm.StartWatchdog()
	defer sm.StopWatchdog()

	for _, name := range cfg.GetUnusedSections() {
		logger.WithField("section", name).Warn("unknown config section ignored")
	}
	if err := cfg.CheckUnusedOptions(); err != nil {
		logger.WithError(err).Warn("unused config options")
	}

	loop, err := servo.New(servo.Config{
		ClockFrequency: ss.ClockFrequency,
		TickBudget:     ss.TickBudget,
		CPUAffinity:    ss.CPUAffinity,
		LockMemory:     ss.LockMemory,
	}, d.tick, tm)
	if err != nil {
		return err
	}

	var ms *metrics.MetricsServer
	if metricsAddr != "" {
		ms = metrics.NewMetricsServer(tm, metricsAddr)
		go func() {
			if err := <-ms.StartAsync(); err != nil {
				logger.WithError(err).Error("metrics server failed")
			}
		}()
		logger.WithField("addr", metricsAddr).Info("metrics server listening")
	}

	var mon *monitor.Server
	if monitorAddr != "" {
		monCfg := monitor.DefaultConfig()
		monCfg.Addr = monitorAddr
		mon = monitor.NewServer(d, monCfg)
		go func() {
			if err := mon.Start(); err != nil {
				logger.WithError(err).Error("monitor server failed")
			}
		}()
		logger.WithField("addr", monitorAddr).Info("status monitor listening")
	}

	// Hot reload on SIGHUP. Units refuse a rebuild while moving or
	// homing, and a rebuilt turret must be re-homed.
	reloader := config.NewReloadManager(registry, cfg, configFile)
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for range hupCh {
			logger.Info("SIGHUP received, reloading configuration")
			results, err := reloader.ReloadFromFile()
			if err != nil {
				logger.WithError(err).Error("config reload failed")
				continue
			}
			for _, res := range results {
				entry := logger.WithField("section", res.Section)
				switch {
				case res.Error != nil:
					entry.WithError(res.Error).Error("section reload failed")
				case res.WasReloaded:
					entry.Info("section reloaded, turret must re-home")
				default:
					entry.Warn("section changed but not reloadable now")
				}
				if !res.WasReloaded {
					continue
				}
				// A brand new section loads a unit that still has to
				// join the servo loop and the safety manager.
				if u, ok := registry.GetModule(res.Section).(*turretUnit); ok {
					if _, err := d.unit(u.TurretName()); err != nil {
						d.addUnit(u)
						sm.RegisterTurret(u)
					}
				}
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("shutting down")
		sm.RequestShutdown("signal " + sig.String())
		cancel()
	}()

	err = loop.Run(ctx)
	if err != nil && err != context.Canceled {
		logger.WithError(err).Error("servo loop stopped")
	}

	if mon != nil {
		mon.Stop()
	}
	if ms != nil {
		ms.Shutdown(context.Background())
	}

	logger.WithFields(log.Fields{
		"cycles":     loop.Cycles(),
		"core_ticks": loop.CoreTicks(),
		"overruns":   loop.Overruns(),
	}).Info("Toolerator Host Stopped")
	return nil
}
