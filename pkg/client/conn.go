package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/labgrid-ui/lgsync/pkg/command"
	"github.com/labgrid-ui/lgsync/pkg/config"
	"github.com/labgrid-ui/lgsync/pkg/event"
	"github.com/labgrid-ui/lgsync/pkg/log"
	"github.com/labgrid-ui/lgsync/pkg/snapshot"
	"github.com/labgrid-ui/lgsync/pkg/transport"
	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// frameBuffer bounds frames received but not yet applied.
const frameBuffer = 64

// liveConn is one established coordinator connection.
type liveConn struct {
	conn      transport.Conn
	id        string
	syncID    uint64
	syncStart time.Time

	synced   chan struct{}
	syncOnce sync.Once
}

func (lc *liveConn) markSynced() {
	lc.syncOnce.Do(func() { close(lc.synced) })
}

// connect is the reconnect manager's attempt: dial, handshake, request a
// resync and start the connection goroutines.
func (s *Session) connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	runCtx := s.runCtx
	connID := uuid.NewString()
	s.dialConnID = connID
	s.mu.Unlock()

	s.logger.Debug("connecting", "coordinator", s.cfg.Coordinator, "connID", connID)
	conn, err := s.dialer.Dial(ctx, s.cfg.Coordinator)
	if err != nil {
		s.logger.Debug("connect failed", "coordinator", s.cfg.Coordinator, "error", err)
		s.logError(connID, "dial", err)
		return err
	}

	lc := &liveConn{conn: conn, id: connID, synced: make(chan struct{})}
	if err := s.handshake(lc); err != nil {
		_ = conn.Close()
		s.store.MarkStale()
		s.logError(connID, "handshake", err)
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	s.current = lc
	s.connWG.Add(1)
	s.mu.Unlock()

	_ = s.dispatcher.Open()

	connCtx, cancel := context.WithCancel(runCtx)
	g, gctx := errgroup.WithContext(connCtx)
	frames := make(chan []byte, frameBuffer)

	g.Go(func() error { return s.receive(gctx, lc, frames) })
	g.Go(func() error { return s.pump(gctx, lc, frames) })
	g.Go(func() error { return s.dispatcher.Run(gctx, &connSender{s: s, lc: lc}) })
	g.Go(func() error { return s.watchResync(gctx, lc) })
	g.Go(func() error { return s.pollReservations(gctx, lc) })
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})
	go s.serve(lc, g, cancel)

	s.logger.Info("connected",
		"coordinator", s.cfg.Coordinator,
		"remote", conn.RemoteAddr(),
		"connID", connID,
		"syncID", lc.syncID)
	return nil
}

// handshake announces the client, subscribes to places and resources and
// starts a resync.
func (s *Session) handshake(lc *liveConn) error {
	s.mu.Lock()
	s.syncID++
	lc.syncID = s.syncID
	s.mu.Unlock()

	steps := []struct {
		kind    wire.StreamKind
		payload any
	}{
		{wire.StreamStartupDone, wire.StartupDone{Version: wire.ProtocolVersion, Name: s.cfg.ClientName()}},
		{wire.StreamSubscribe, wire.Subscribe{AllPlaces: true}},
		{wire.StreamSubscribe, wire.Subscribe{AllResources: true}},
	}
	for _, step := range steps {
		if err := s.sendStream(lc, step.kind, step.payload); err != nil {
			return err
		}
	}

	// Everything the coordinator streams from here up to the echo of
	// this sync id is the full listing.
	s.store.BeginSync(lc.syncID)
	lc.syncStart = time.Now()
	s.logStateFor("", log.StateEntitySnapshot, "", snapshot.StateSyncing.String(), fmt.Sprintf("sync %d", lc.syncID))
	return s.sendStream(lc, wire.StreamSync, wire.Sync{ID: lc.syncID})
}

func (s *Session) sendStream(lc *liveConn, kind wire.StreamKind, payload any) error {
	frame, err := wire.EncodeStreamIn(kind, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	if err := lc.conn.Send(frame); err != nil {
		return &transport.DialError{Stage: transport.StageStream, Endpoint: s.cfg.Coordinator, Err: err}
	}
	s.metrics.IncFramesSent()
	s.logStreamIn(lc, kind)
	return nil
}

// serve waits for the connection goroutines and handles the loss.
func (s *Session) serve(lc *liveConn, g *errgroup.Group, cancel context.CancelFunc) {
	defer s.connWG.Done()

	err := g.Wait()
	cancel()

	s.mu.Lock()
	if s.current == lc {
		s.current = nil
	}
	closed := s.closed
	s.mu.Unlock()

	s.dispatcher.Disconnect()
	if closed {
		return
	}

	s.store.MarkStale()
	s.logger.Info("connection lost",
		"coordinator", s.cfg.Coordinator,
		"connID", lc.id,
		"error", err)
	s.logError(lc.id, "connection", err)
	s.logStateFor("", log.StateEntitySnapshot, "", snapshot.StateStale.String(), "connection lost")
	s.manager.NotifyConnectionLost(err)
}

// receive reads frames off the connection for the pump.
func (s *Session) receive(ctx context.Context, lc *liveConn, frames chan<- []byte) error {
	for {
		frame, err := lc.conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("coordinator closed the stream: %w", err)
			}
			return fmt.Errorf("receive: %w", err)
		}
		s.metrics.IncFramesReceived()

		select {
		case frames <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pump is the single writer of the snapshot. Frames are applied in
// arrival order.
func (s *Session) pump(ctx context.Context, lc *liveConn, frames <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-frames:
			if err := s.handleFrame(lc, frame); err != nil {
				return err
			}
		case events := <-s.inject:
			s.applyEvents(lc, events)
		}
	}
}

// handleFrame routes one inbound frame. Only a critical response status
// ends the connection; undecodable frames are dropped.
func (s *Session) handleFrame(lc *liveConn, frame []byte) error {
	id, err := wire.PeekMessageID(frame)
	if err != nil {
		s.dropFrame(lc, err)
		return nil
	}

	if id == wire.StreamMessageID {
		events, err := event.Decode(frame)
		if err != nil {
			s.dropFrame(lc, err)
			return nil
		}
		s.logStreamOut(lc, events)
		s.applyEvents(lc, events)
		return nil
	}

	resp, err := wire.DecodeResponse(frame)
	if err != nil {
		s.dropFrame(lc, err)
		return nil
	}
	s.logResponse(lc, resp)
	if err := s.dispatcher.HandleResponse(resp); err != nil {
		if errors.Is(err, command.ErrCriticalStatus) {
			return err
		}
		s.logger.Warn("unexpected response",
			"msgID", resp.MessageID,
			"status", resp.Status.String(),
			"error", err)
	}
	return nil
}

func (s *Session) dropFrame(lc *liveConn, err error) {
	s.metrics.IncDecodeErrors()
	s.logger.Warn("dropping undecodable frame", "connID", lc.id, "error", err)
	s.logError(lc.id, "decode", err)
}

func (s *Session) applyEvents(lc *liveConn, events []event.Event) {
	for _, ev := range events {
		err := s.store.Apply(ev)
		switch {
		case err == nil:
		case errors.Is(err, snapshot.ErrSyncMismatch):
			s.logger.Debug("ignoring stale sync", "connID", lc.id, "error", err)
			continue
		default:
			s.logger.Debug("event not applied",
				"kind", ev.Kind().String(),
				"key", ev.Key(),
				"error", err)
			continue
		}

		if done, ok := ev.(event.SyncComplete); ok && done.ID == lc.syncID {
			lc.markSynced()
			s.metrics.RecordResync(time.Since(lc.syncStart), true)
			s.logger.Info("resync complete",
				"syncID", done.ID,
				"revision", s.store.Revision(),
				"elapsed", time.Since(lc.syncStart))
			s.logStateFor("", log.StateEntitySnapshot, snapshot.StateSyncing.String(), snapshot.StateLive.String(), "")
		}
	}

	places, resources := s.store.Len()
	s.metrics.RecordSnapshot(s.store.Revision(), places, resources)
}

// watchResync fails the connection if the resync does not complete in time.
func (s *Session) watchResync(ctx context.Context, lc *liveConn) error {
	timeout := s.cfg.ResyncTimeout
	if timeout <= 0 {
		timeout = config.DefaultResyncTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-lc.synced:
		return nil
	case <-timer.C:
		s.metrics.RecordResync(timeout, false)
		return fmt.Errorf("%w after %s (sync %d)", ErrResyncTimeout, timeout, lc.syncID)
	}
}

// pollReservations refreshes reservations once the snapshot is live and
// then periodically. Reservations are not part of the change stream.
func (s *Session) pollReservations(ctx context.Context, lc *liveConn) error {
	interval := s.cfg.ReservationPollInterval
	if interval <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-lc.synced:
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.RefreshReservations(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Debug("reservation poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RefreshReservations lists reservations and queues the differences for
// the pump. The snapshot reflects them shortly after it returns.
func (s *Session) RefreshReservations(ctx context.Context) error {
	h := s.dispatcher.Submit(command.GetReservations{})
	if err := h.Wait(ctx); err != nil {
		return err
	}
	result, _ := h.Result()
	events, err := event.DecodeReservations(result.Payload, s.store.ReservationTokens())
	if err != nil {
		return err
	}
	select {
	case s.inject <- events:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// offer queues events for the pump without blocking. A full queue drops
// them; the next reservation poll repairs the snapshot.
func (s *Session) offer(events ...event.Event) {
	select {
	case s.inject <- events:
	default:
		s.logger.Debug("event queue full, dropping local events", "count", len(events))
	}
}

// connSender writes dispatcher requests to a connection.
type connSender struct {
	s  *Session
	lc *liveConn
}

func (cs *connSender) Send(data []byte) error {
	if err := cs.lc.conn.Send(data); err != nil {
		return err
	}
	cs.s.metrics.IncFramesSent()
	cs.s.logRequest(cs.lc, data)
	return nil
}
