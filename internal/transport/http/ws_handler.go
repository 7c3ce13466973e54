package http

import (
	"context"
	"errors"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/deploydeck/internal/backend"
	"github.com/vovakirdan/deploydeck/internal/proto"
)

// WSHandler upgrades HTTP connections into realtime feeds over the data
// service. The client only receives; anything it sends is discarded.
type WSHandler struct {
	ds     backend.DataService
	buffer int
	log    *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(ds backend.DataService, buffer int, logger *zerolog.Logger) *WSHandler {
	if buffer <= 0 {
		buffer = 1
	}
	return &WSHandler{ds: ds, buffer: buffer, log: logger}
}

// Serve handles GET /realtime?collection=...&event=...&eq.<field>=<v>.
func (h *WSHandler) Serve(c *gin.Context) {
	claims, ok := claimsFrom(c)
	if !ok {
		abortWithError(c, stdhttp.StatusUnauthorized, "unauthorized", backend.ErrCodeUnauthorized)
		return
	}

	collection, filter, err := proto.DecodeSubscription(c.Request.URL.Query())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if err := authorize(claims, opRead, collection); err != nil {
		writeError(c, h.log, err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan backend.Event, h.buffer)
	sub, err := h.ds.Subscribe(ctx, collection, filter, func(ev backend.Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	defer func() {
		cancel()
		if err := sub.Unsubscribe(); err != nil {
			h.log.Warn().Err(err).Msg("realtime unsubscribe")
		}
	}()

	conn, err := websocket.Accept(unwrapWriter(c.Writer), c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()

	logger := h.log.With().
		Str("user_id", claims.UserID).
		Str("collection", collection).
		Logger()
	logger.Debug().Msg("realtime subscriber connected")

	// CloseRead keeps control frames flowing and cancels ctx once the
	// client goes away.
	ctx = conn.CloseRead(ctx)

	err = h.writeLoop(ctx, conn, events)

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
			status = websocket.StatusInternalError
			reason = "write failed"
			logger.Warn().Err(err).Msg("ws connection closed with error")
		}
	}
	logger.Debug().Msg("realtime subscriber disconnected")
	_ = conn.Close(status, reason)
}

// unwrapWriter returns the connection's own ResponseWriter. gin's wrapper
// refuses to hijack once it considers the response written.
func unwrapWriter(w stdhttp.ResponseWriter) stdhttp.ResponseWriter {
	if u, ok := w.(interface{ Unwrap() stdhttp.ResponseWriter }); ok {
		return u.Unwrap()
	}
	return w
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, events <-chan backend.Event) error {
	if err := wsjson.Write(ctx, conn, proto.Outbound{
		Type:     proto.OutboundTypeReady,
		Protocol: proto.ProtocolVersion,
	}); err != nil {
		return err
	}

	for {
		select {
		case ev := <-events:
			if err := wsjson.Write(ctx, conn, proto.EventFrame(ev)); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
