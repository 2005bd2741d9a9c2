// Package txn defines what the session manager needs to know about
// signable material: how to obtain the bytes a device signs, and how a
// raw device signature is packaged for inclusion in a transaction
// envelope.
//
// The manager never interprets transaction contents. Anything that can
// produce a signature base qualifies, from a full transaction builder
// down to the raw Payload used by the command-line console.
package txn
