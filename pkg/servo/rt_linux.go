// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

//go:build linux

package servo

import (
	"runtime"

	"golang.org/x/sys/unix"

	"toolerator-go/pkg/log"
)

// applyRealtime pins the servo thread and locks memory per the
// configuration. Failures are reported and otherwise ignored so the
// loop still runs without elevated privileges.
func applyRealtime(cfg Config, logger *log.Logger) {
	if cfg.LockMemory {
		if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
			logger.WithError(err).Warn("mlockall failed, continuing without locked memory")
		} else {
			logger.Debug("process memory locked")
		}
	}

	if cfg.CPUAffinity >= 0 {
		// The OS thread must stay fixed for the affinity mask to mean
		// anything.
		runtime.LockOSThread()

		var set unix.CPUSet
		set.Set(cfg.CPUAffinity)
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			logger.WithError(err).WithField("cpu", cfg.CPUAffinity).
				Warn("cpu affinity failed, continuing unpinned")
		} else {
			logger.WithField("cpu", cfg.CPUAffinity).Debug("servo thread pinned")
		}
	}
}
