package cdp

import (
	"context"
	"fmt"
	"time"
)

// monitorLiveness pings s every PingInterval. After PingMaxSubsequentFails
// consecutive missed pongs the socket is torn down and a reconnect begins.
// The monitor ends with its socket.
func (c *Connection) monitorLiveness(s *socket) {
	defer c.wg.Done()

	s.pingFails.Store(0)
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(s.ctx, c.opts.PingTimeout)
		err := s.conn.Ping(ctx)
		cancel()
		if s.ctx.Err() != nil {
			return
		}

		if err == nil {
			s.pingFails.Store(0)
			c.mu.Lock()
			c.lastPong = time.Now()
			c.mu.Unlock()
			continue
		}

		fails := s.pingFails.Add(1)
		c.logger.WithError(err).WithField("fails", fails).Debug("Ping failed")
		if int(fails) >= c.opts.PingMaxSubsequentFails {
			c.handleSocketLoss(s, fmt.Sprintf("no pong for %d consecutive pings", fails))
			return
		}
	}
}
