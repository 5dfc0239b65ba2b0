package state

import "errors"

// StateVersion identifies the expected on-disk schema layout. Increment it
// whenever the stored records change shape.
const StateVersion uint32 = 1

// ErrStateVersionMismatch indicates the stored schema version does not match
// the version supported by the current binary.
var ErrStateVersionMismatch = errors.New("state: schema version mismatch")
