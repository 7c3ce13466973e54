package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/deploydeck/internal/backend"
	"github.com/vovakirdan/deploydeck/internal/proto"
)

// readLimit caps one realtime frame. Records carry a handful of fields of
// at most backend.MaxFieldLength bytes each.
const readLimit = 1 << 20

// Subscribe opens a realtime WebSocket and returns once the server has
// confirmed the subscription. Events are handed to handler from a single
// reader goroutine. A dropped connection is logged, closes Done and is not
// re-established.
//
// handler must not call Unsubscribe on its own subscription.
func (c *Client) Subscribe(ctx context.Context, collection string, filter backend.EventFilter, handler backend.Handler) (backend.Subscription, error) {
	wsURL := c.endpoint("/realtime", proto.EncodeSubscription(collection, filter))
	wsURL = "ws" + strings.TrimPrefix(wsURL, "http")

	header := http.Header{}
	c.authHeader(header)

	handshakeCtx, cancelHandshake := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancelHandshake()

	conn, resp, err := websocket.Dial(handshakeCtx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return nil, decodeError(resp)
		}
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	conn.SetReadLimit(readLimit)

	var ready proto.Outbound
	if err := wsjson.Read(handshakeCtx, conn, &ready); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("await realtime ready: %w", err)
	}
	if ready.Type != proto.OutboundTypeReady {
		conn.CloseNow()
		return nil, fmt.Errorf("unexpected realtime frame %q", ready.Type)
	}

	// The feed outlives the dial context.
	readCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{conn: conn, cancel: cancel, done: make(chan struct{})}

	logger := c.log.With().Str("collection", collection).Logger()
	go func() {
		defer close(sub.done)
		for {
			var frame proto.Outbound
			if err := wsjson.Read(readCtx, conn, &frame); err != nil {
				if readCtx.Err() == nil {
					switch websocket.CloseStatus(err) {
					case websocket.StatusNormalClosure, websocket.StatusGoingAway:
						logger.Info().Msg("realtime feed closed by server")
					default:
						logger.Warn().Err(err).Msg("realtime feed dropped")
					}
				}
				return
			}

			switch frame.Type {
			case proto.OutboundTypeEvent:
				ev, err := frame.ToEvent()
				if err != nil {
					logger.Warn().Err(err).Msg("dropping malformed realtime frame")
					continue
				}
				handler(ev)
			case proto.OutboundTypeError:
				if frame.Error != nil {
					logger.Warn().Str("code", frame.Error.Code).Str("msg", frame.Error.Msg).Msg("realtime error frame")
				}
			}
		}
	}()

	return sub, nil
}

type subscription struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// Unsubscribe closes the socket and waits for the reader goroutine.
// Cancelling the reader may already have torn the socket down, so the
// close result is not reported.
func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "unsubscribe")
	})
	<-s.done
	return nil
}

// Done is closed once the reader goroutine has stopped.
func (s *subscription) Done() <-chan struct{} {
	return s.done
}
