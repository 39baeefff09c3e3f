package chat

import "time"

// Transport limits and defaults. Overridable knobs live in internal/app config.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Default max message body length (runes) accepted by the delivery endpoint.
	defaultMaxBodyChars = 4000

	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout = 5 * time.Second
	defaultPingInterval = 30 * time.Second
)
