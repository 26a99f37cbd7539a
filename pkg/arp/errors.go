package arp

import "errors"

var (
	// ErrFrameTooLarge means the interface's hardware address length would
	// push an encoded request past the fixed frame buffer.
	ErrFrameTooLarge = errors.New("arp: frame exceeds buffer")

	// ErrFrameTruncated means an inbound frame is shorter than its header
	// claims. Such frames are dropped silently by the read path.
	ErrFrameTruncated = errors.New("arp: truncated frame")

	// ErrNotIPv4 means an inbound frame does not carry 4-byte protocol
	// addresses.
	ErrNotIPv4 = errors.New("arp: protocol address is not IPv4")

	// ErrNotFound means no session exists for the interface/address pair.
	ErrNotFound = errors.New("arp: session not found")

	// ErrSessionLimit means the per-interface session limit was reached.
	ErrSessionLimit = errors.New("arp: too many sessions on interface")

	// ErrClosed means a send was attempted on a closed transport.
	ErrClosed = errors.New("arp: transport closed")
)
