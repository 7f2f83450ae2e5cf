// Unified error handling for the toolerator host
//
// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
	"runtime"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"
	ErrConfigScale      ErrorCode = "CONFIG_SCALE"

	// Homing errors
	ErrHomingNotFound ErrorCode = "HOMING_NOT_FOUND"
	ErrHomingOverrun  ErrorCode = "HOMING_OVERRUN"

	// Turret errors
	ErrTurretTool     ErrorCode = "TURRET_TOOL"
	ErrTurretSequence ErrorCode = "TURRET_SEQUENCE"

	// Runtime errors
	ErrRuntime      ErrorCode = "RUNTIME"
	ErrRuntimeInit  ErrorCode = "RUNTIME_INIT"
	ErrRuntimeHAL   ErrorCode = "RUNTIME_HAL"
	ErrRuntimeServo ErrorCode = "RUNTIME_SERVO"
)

// HostError is the unified error type for the host system
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// File is the source file (if available)
	File string

	// Line is the line number in the source file (if available)
	Line int

	// Section is the config section or context
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Option, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Code, e.Section, e.Message)
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetFile sets the source file
func (e *HostError) SetFile(file string) *HostError {
	e.File = file
	return e
}

// SetLine sets the line number
func (e *HostError) SetLine(line int) *HostError {
	e.Line = line
	return e
}

// SetSection sets the context section
func (e *HostError) SetSection(section string) *HostError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *HostError) SetOption(option string) *HostError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// Config errors

// ConfigSectionError creates an error for missing config section
func ConfigSectionError(section string) *HostError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigOptionError creates an error for missing or invalid config option
func ConfigOptionError(section, option string) *HostError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s' not found in section '%s'", option, section)).
		SetSection(section).
		SetOption(option)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *HostError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// ConfigTypeError creates an error for config type conversion failure
func ConfigTypeError(section, option, value string, targetType string, err error) *HostError {
	return Wrap(err, ErrConfigType, fmt.Sprintf("option '%s' in section '%s': failed to parse '%s' as %s", option, section, value, targetType)).
		SetSection(section).
		SetOption(option)
}

// ConfigScaleError creates an error for a fixed-point scale that cannot
// represent the requested physical range
func ConfigScaleError(reason string) *HostError {
	return New(ErrConfigScale, reason)
}

// Homing errors

// HomingNotFoundError creates an error for a home switch that never
// triggered within one full revolution
func HomingNotFoundError(turret string) *HostError {
	return New(ErrHomingNotFound, fmt.Sprintf("turret '%s': home switch not found within one revolution", turret)).
		SetSection(turret)
}

// HomingOverrunError creates an error for a latch pass that overran the
// back-off distance without re-triggering the home switch
func HomingOverrunError(turret string) *HostError {
	return New(ErrHomingOverrun, fmt.Sprintf("turret '%s': home switch lost during latch pass", turret)).
		SetSection(turret)
}

// Turret errors

// TurretToolError creates an error for an invalid tool number
func TurretToolError(turret string, tool, toolCount int) *HostError {
	return New(ErrTurretTool, fmt.Sprintf("turret '%s': tool %d out of range 1..%d", turret, tool, toolCount)).
		SetSection(turret)
}

// TurretSequenceError creates an error for an illegal sequencer operation
func TurretSequenceError(turret string, reason string) *HostError {
	return New(ErrTurretSequence, fmt.Sprintf("turret '%s': %s", turret, reason)).
		SetSection(turret)
}

// Runtime errors

// RuntimeError creates a general runtime error
func RuntimeError(message string) *HostError {
	return New(ErrRuntime, message)
}

// RuntimeErrorInit creates an error for initialization failure
func RuntimeErrorInit(component string, reason string) *HostError {
	return New(ErrRuntimeInit, fmt.Sprintf("failed to initialize %s: %s", component, reason))
}

// RuntimeErrorHAL creates an error for HAL interface failure
func RuntimeErrorHAL(operation string, reason string) *HostError {
	return New(ErrRuntimeHAL, fmt.Sprintf("HAL %s failed: %s", operation, reason))
}

// RuntimeErrorServo creates an error for servo loop failure
func RuntimeErrorServo(operation string, reason string) *HostError {
	return New(ErrRuntimeServo, fmt.Sprintf("servo %s failed: %s", operation, reason))
}

// Helper functions for adding context

// WithConfigPath adds config file path to error context
func WithConfigPath(err *HostError, path string) *HostError {
	if err == nil {
		return nil
	}
	err.SetContext("config_path", path)
	return err
}

// WithLineNumber adds line number to error context
func WithLineNumber(err *HostError, line int) *HostError {
	if err == nil {
		return nil
	}
	err.SetLine(line)
	return err
}

// RecoverPanic safely recovers from panic and converts to error
func RecoverPanic() *HostError {
	if r := recover(); r != nil {
		// Convert panic to HostError
		var err error
		switch x := r.(type) {
		case string:
			err = RuntimeError(fmt.Sprintf("panic: %s", x))
		case error:
			err = RuntimeError(x.Error())
		case runtime.Error:
			err = RuntimeError(x.Error())
		default:
			err = RuntimeError(fmt.Sprintf("panic: %v", x))
		}
		return err.(*HostError)
	}
	return nil
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	if hostErr, ok := err.(*HostError); ok {
		return hostErr.Code == code
	}
	return false
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigSection) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation) ||
		Is(err, ErrConfigType) ||
		Is(err, ErrConfigScale)
}

// IsHoming checks if error is a homing error
func IsHoming(err error) bool {
	return Is(err, ErrHomingNotFound) ||
		Is(err, ErrHomingOverrun)
}

// IsRuntime checks if error is a runtime error
func IsRuntime(err error) bool {
	return Is(err, ErrRuntime) ||
		Is(err, ErrRuntimeInit) ||
		Is(err, ErrRuntimeHAL) ||
		Is(err, ErrRuntimeServo)
}
