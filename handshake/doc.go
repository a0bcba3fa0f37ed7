// Package handshake drives the D-Bus SASL AUTH line protocol that
// precedes any message traffic on a connection: EXTERNAL
// authentication by Unix credentials, optional negotiation of
// file-descriptor passing, and the final BEGIN that switches the
// stream over to the binary message protocol.
//
// Both a blocking driver ([Client], [Server]) and a step-wise driver
// ([ClientMachine.Advance], [ServerMachine.Advance]) are provided, so a
// caller embedding this package in
// a non-blocking event loop can drive the handshake a read or write at
// a time instead of handing the whole socket over for the duration.
package handshake
