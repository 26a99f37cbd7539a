package arp

import "time"

// RFC 5227 section 1.1 timing constants.
const (
	ProbeNum     = 3
	ProbeMin     = 1 * time.Second
	ProbeMax     = 2 * time.Second
	AnnounceNum  = 2
	AnnounceWait = 2 * time.Second
)

const (
	opRequest = 1

	// etherTypeIPv4 and etherTypeARP are the EtherType values carried in
	// the ARP protocol-type field and on the wire respectively.
	etherTypeIPv4 = 0x0800
	etherTypeARP  = 0x0806
)
