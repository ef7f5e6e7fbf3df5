package ports

import (
	"errors"
	"fmt"
	"net"
	"time"

	"sfvip-launcher/work/mutex"
)

// ErrNoPortAvailable is returned only on underlying OS exhaustion.
var ErrNoPortAvailable = errors.New("ports: no local port available")

// allocMutex serializes allocations process-wide so that two launcher
// instances never race on the same ephemeral port.
var allocMutex = mutex.New("sfvip-launcher/port-allocator")

const (
	mutexTimeout = 5 * time.Second
	maxAttempts  = 64
)

// AllocatePort reserves a fresh localhost TCP port that is not in the
// forbidden set. The forbidden set is derived from the ports embedded in the
// upstream URLs, so a listener is never bound to a port that appears in a
// URL it is meant to forward to.
func AllocatePort(forbidden map[int]struct{}) (int, error) {
	var port int
	err := allocMutex.With(mutexTimeout, func() error {
		for i := 0; i < maxAttempts; i++ {
			p, err := bindEphemeral()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrNoPortAvailable, err)
			}
			if _, bad := forbidden[p]; bad {
				continue
			}
			port = p
			return nil
		}
		return fmt.Errorf("%w: every attempt landed in the forbidden set", ErrNoPortAvailable)
	})
	return port, err
}

// bindEphemeral binds localhost:0, reads the assigned port and closes the
// socket again.
func bindEphemeral() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
