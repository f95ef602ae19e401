package nats

import (
	"os"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/codewandler/kvrouter/core/cluster"
)

type closeFunc = func()

type Connector func() (nc *natsgo.Conn, close closeFunc, err error)

func ConnectURL(natsURL string, opts ...natsgo.Option) Connector {
	return func() (*natsgo.Conn, closeFunc, error) {
		nc, err := natsgo.Connect(
			natsURL,
			append([]natsgo.Option{natsgo.MaxReconnects(0)}, opts...)...,
		)
		if err != nil {
			return nil, nil, err
		}
		return nc, func() { nc.Close() }, nil
	}
}

// ConnectEndpoint connects to the NATS server at e. Automatic reconnects are
// off; a lost server is reported to the router, which fails over.
func ConnectEndpoint(e cluster.Endpoint, timeout time.Duration) Connector {
	return ConnectURL("nats://"+e.String(), natsgo.Timeout(timeout))
}

func ConnectDefault() Connector {
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		return ConnectURL(natsURL)
	}
	return ConnectURL(natsgo.DefaultURL)
}
