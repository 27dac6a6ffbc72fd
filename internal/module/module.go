// Package module implements the module loader and module manager:
// discovering modules from packages via a stable four-symbol ABI or
// direct registration, building each module's CoreProxy, and driving
// Init/Start in registration order and Shutdown in reverse.
package module

import "context"

// DetailInfo is the per-module identity record: name, owning package,
// version, authorship, and the log-level/config-path overrides applied
// from configuration.
type DetailInfo struct {
	Name             string
	PkgPath          string
	Major, Minor, Patch, Build int
	Author           string
	Description      string
	LogLvl           string
	UseDefaultLogLvl bool
	CfgFilePath      string
}

// Base is the contract every module implements. Initialize receives the
// CoreProxy closing over every service the module is allowed to see;
// Start/Shutdown carry no arguments since all wiring already happened at
// Initialize.
type Base interface {
	Info() DetailInfo
	Initialize(ctx context.Context, core *CoreProxy) error
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Factory constructs one named module instance, the Go analogue of
// `AimRTDynlibCreateModule`.
type Factory func() Base
