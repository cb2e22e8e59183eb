package hal

// NIC is implemented by network interface drivers (RTL8139 and similar).
type NIC interface {
	// MAC returns the interface's hardware address.
	MAC() [6]byte

	// Transmit sends frame as a single link-layer frame.
	Transmit(frame []byte) error

	// Grab installs onPacket as the receive callback, invoked once per
	// incoming frame. Passing nil detaches any previously installed
	// callback.
	Grab(onPacket func(frame []byte))
}
