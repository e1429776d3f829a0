package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-hub/internal/devicechannel"
)

// Stream defaults applied when the configuration leaves a value at zero.
const (
	defaultPingInterval    = 30 * time.Second
	defaultPongTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultProducerTimeout = 10 * time.Second
)

// Reasons recorded for messages that never reach the device.
const (
	lostStreamClosed = "stream_closed"
	lostWriteFailed  = "write_failed"
)

// deviceStream is the devicechannel.Stream of one device WebSocket.
type deviceStream struct {
	ctx    context.Context
	remote string
}

func (d *deviceStream) Context() context.Context { return d.ctx }

func (d *deviceStream) RemoteAddr() string { return d.remote }

// handleDeviceStream upgrades a device's request to its message stream.
// Outbound frames are the payloads queued for the device; inbound frames
// are forwarded to the relay when one is configured.
func (s *Server) handleDeviceStream(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid device id")
		return
	}

	claims := claimsFromContext(r.Context())
	subject, err := claims.SubjectID()
	if err != nil || subject != deviceID {
		writeForbidden(w, "token does not belong to this device")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("device stream upgrade failed", "device_id", deviceID, "error", err)
		return
	}

	// The request context ends when this handler returns, so the stream
	// lives under the server context instead.
	ctx, cancel := context.WithCancel(s.baseContext())
	stream := &deviceStream{ctx: ctx, remote: r.RemoteAddr}
	ch := s.comm.RegisterDeviceChannel(deviceID, stream, s.hubCfg.QueueCapacity)

	s.logger.Info("device stream opened", "device_id", deviceID, "remote", r.RemoteAddr)

	go s.deviceReadLoop(ctx, cancel, conn, ch)
	go s.deviceWriteLoop(ctx, cancel, conn, ch)
}

// deviceReadLoop consumes inbound frames until the connection fails, then
// wakes the write loop.
func (s *Server) deviceReadLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, ch *devicechannel.Channel) {
	defer func() {
		cancel()
		ch.Stop()
	}()

	if s.devCfg.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(s.devCfg.MaxMessageSize))
	}
	pingInterval := seconds(s.devCfg.PingInterval, defaultPingInterval)
	pongWait := seconds(s.devCfg.PongTimeout, defaultPongTimeout)
	//nolint:errcheck // Best-effort deadline on connection setup
	conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	deviceID := ch.DeviceID()
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("device stream read error", "device_id", deviceID, "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		s.metrics.observeFrame("inbound")

		if s.relay != nil {
			s.relay.ForwardInbound(deviceID, frame)
		}
	}
}

// deviceWriteLoop delivers queued messages to the device until its channel
// is stopped or replaced, or the connection ends.
func (s *Server) deviceWriteLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, ch *devicechannel.Channel) {
	deviceID := ch.DeviceID()
	writeWait := seconds(s.devCfg.WriteTimeout, defaultWriteTimeout)

	defer func() {
		cancel()
		conn.Close()
		s.comm.ReleaseDeviceChannel(ch)
		s.logger.Info("device stream closed", "device_id", deviceID)
	}()

	go s.devicePinger(ctx, conn, writeWait)

	for {
		produce, err := ch.Next(ctx)
		if err != nil {
			if errors.Is(err, devicechannel.ErrStopped) && ctx.Err() == nil {
				//nolint:errcheck // Best-effort close frame to a replaced device stream
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream replaced"),
					time.Now().Add(writeWait))
			}
			return
		}

		pctx, pcancel := context.WithTimeout(ctx, s.producerTimeout)
		payload, err := produce(pctx)
		pcancel()
		if err != nil {
			s.logger.Warn("building device message failed", "device_id", deviceID, "error", err)
			continue
		}

		// The stream ended while the payload was being built.
		if ctx.Err() != nil {
			s.metrics.observeLost(lostStreamClosed)
			s.logger.Warn("device message lost: stream closed", "device_id", deviceID)
			return
		}

		//nolint:errcheck // Best-effort deadline; write error caught below
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			s.metrics.observeLost(lostWriteFailed)
			s.logger.Warn("device message lost: write failed", "device_id", deviceID, "error", err)
			return
		}
		s.metrics.observeFrame("outbound")
	}
}

// devicePinger keeps the device connection alive. WriteControl may run
// concurrently with the write loop's WriteMessage.
func (s *Server) devicePinger(ctx context.Context, conn *websocket.Conn, writeWait time.Duration) {
	ticker := time.NewTicker(seconds(s.devCfg.PingInterval, defaultPingInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// seconds converts a configured number of seconds, falling back to def for
// values <= 0.
func seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
