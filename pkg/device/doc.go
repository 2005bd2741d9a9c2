// Package device defines the boundary to the signing device collaborators.
//
// The connection manager in pkg/session never talks to hardware itself.
// It sequences three external pieces:
//
//   - Opener acquires the physical channel (USB HID, simulator, ...).
//   - Transport is the exclusively owned handle on that channel.
//   - App is the signing application protocol bound to a Transport.
//
// Implementations live outside this module (or in pkg/devicesim for the
// in-process simulator). Errors returned from App calls carry a closed
// ErrorKind discriminator so callers can branch without inspecting
// message text:
//
//	if device.IsBusy(err) {
//	    // device is mid-signature, not gone
//	}
package device
