// Package devicesim provides an in-process signing device.
//
// The simulator implements the device.Opener and device.App contracts
// backed by real SLIP-10 ed25519 key derivation, so sessions built on
// it produce verifiable signatures. It exists for two audiences: tests,
// which drive its fault injection to reproduce unplugged cables, busy
// prompts and user rejections; and the command-line console, which uses
// it as a stand-in when no hardware is attached.
//
// A Simulator is safe for concurrent use. Fault switches take effect on
// the next exchange.
package devicesim
