package services

import (
	"fmt"
	"sync"
	"time"

	"rwa/internal/logger"

	"github.com/nats-io/nats.go"
)

var (
	NatsConn *nats.Conn
	oneNats  sync.Once
)

// ConnectNats returns the process-wide NATS connection, creating it on first
// use. Disconnects and reconnects are logged.
func ConnectNats(url string, log *logger.Logger) (*nats.Conn, error) {
	var err error
	oneNats.Do(func() {
		NatsConn, err = nats.Connect(url,
			nats.Name("rwa-engine"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					log.Warn("nats disconnected", "error", err)
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info("nats reconnected", "url", nc.ConnectedUrl())
			}),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("could not connect to nats at %s: %w", url, err)
	}
	if NatsConn == nil {
		return nil, fmt.Errorf("nats connection to %s unavailable", url)
	}
	return NatsConn, nil
}
