package events

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/vk/featflow/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// EventName is the socket.io event every batch event is emitted as.
const EventName = "job"

const connectTimeout = 15 * time.Second

// SocketIOPublisher forwards events to a socket.io server, typically a live
// dashboard watching the batch.
type SocketIOPublisher struct {
	io *socket.Socket
}

// DialOptions configure a socket.io connection.
type DialOptions struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
}

// Dial connects to the server over websocket and waits for the connection
// to be acknowledged.
func Dial(ctx context.Context, o DialOptions) (*SocketIOPublisher, error) {
	logger := ctxlog.FromContext(ctx).With("url", o.URL)
	logger.Info("Connecting event publisher...")

	parsedURL, err := url.Parse(o.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid events URL %q: scheme and host are required", o.URL)
	}

	opts := socket.DefaultOptions()
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		opts.SetPath(parsedURL.Path)
	}
	if o.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))
	opts.SetReconnection(false)

	connectChan := make(chan error, 1)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(o.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Event publisher connected", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		var err error = fmt.Errorf("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connectChan <- err
	})

	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return &SocketIOPublisher{io: io}, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(connectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", connectTimeout)
	}
}

// Publish implements Publisher. Events are dropped while disconnected.
func (p *SocketIOPublisher) Publish(ctx context.Context, e Event) {
	if !p.io.Connected() {
		ctxlog.FromContext(ctx).Debug("Event publisher disconnected, dropping event.", "unit", e.Unit, "kind", e.Kind)
		return
	}
	if err := p.io.Emit(EventName, e.Fields()); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to emit event.", "unit", e.Unit, "error", err)
	}
}

// Close implements Publisher.
func (p *SocketIOPublisher) Close() error {
	p.io.Disconnect()
	return nil
}
