// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

//go:build !linux

package servo

import "toolerator-go/pkg/log"

// applyRealtime is a no-op outside Linux.
func applyRealtime(cfg Config, logger *log.Logger) {
	if cfg.LockMemory || cfg.CPUAffinity >= 0 {
		logger.Debug("realtime tuning not supported on this platform")
	}
}
