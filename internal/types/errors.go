package types

import (
	errorsmod "cosmossdk.io/errors"
)

// Codespace groups every error this module registers
const Codespace = "gravlens"

var (
	ErrInvalidBody   = errorsmod.Register(Codespace, 2, "invalid body")
	ErrCyclicTree    = errorsmod.Register(Codespace, 3, "body graph contains a cycle")
	ErrUnknownBody   = errorsmod.Register(Codespace, 4, "unknown body")
	ErrInvalidConfig = errorsmod.Register(Codespace, 5, "invalid configuration")
	ErrTimeReversal  = errorsmod.Register(Codespace, 6, "simulation time moved backwards")
	ErrUnknownPreset = errorsmod.Register(Codespace, 7, "unknown scene preset")
	ErrInvalidParams = errorsmod.Register(Codespace, 8, "invalid integrator parameters")
)
