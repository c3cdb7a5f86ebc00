package retry

import (
	"net"
	"time"
)

const (
	probeAddr    = "8.8.8.8:53"
	probeTimeout = 2 * time.Second
)

// Online probes connectivity with a plain TCP dial. Cheaper than a
// failed API round trip and good enough to skip a hopeless retry pass.
func Online() bool {
	conn, err := net.DialTimeout("tcp", probeAddr, probeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
