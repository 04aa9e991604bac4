package client

import (
	"time"

	"github.com/labgrid-ui/lgsync/pkg/event"
	"github.com/labgrid-ui/lgsync/pkg/log"
	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// emit fills the common fields and hands ev to the protocol logger.
func (s *Session) emit(connID string, ev log.Event) {
	if s.protocolLogger == nil {
		return
	}
	ev.Timestamp = time.Now()
	ev.ConnectionID = connID
	ev.RemoteAddr = s.cfg.Coordinator
	s.protocolLogger.Log(ev)
}

func (s *Session) logRequest(lc *liveConn, data []byte) {
	if s.protocolLogger == nil {
		return
	}
	req, err := wire.DecodeRequest(data)
	if err != nil {
		return
	}
	method := req.Method
	s.emit(lc.id, log.Event{
		Direction: log.DirectionOut,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		Message: &log.MessageEvent{
			Type:      log.MessageTypeRequest,
			MessageID: req.MessageID,
			Method:    &method,
		},
	})
}

func (s *Session) logResponse(lc *liveConn, resp *wire.Response) {
	if s.protocolLogger == nil {
		return
	}
	status := resp.Status
	s.emit(lc.id, log.Event{
		Direction: log.DirectionIn,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		Message: &log.MessageEvent{
			Type:      log.MessageTypeResponse,
			MessageID: resp.MessageID,
			Status:    &status,
		},
	})
}

func (s *Session) logStreamIn(lc *liveConn, kind wire.StreamKind) {
	if s.protocolLogger == nil {
		return
	}
	s.emit(lc.id, log.Event{
		Direction: log.DirectionOut,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		Message: &log.MessageEvent{
			Type:       log.MessageTypeStream,
			StreamKind: &kind,
		},
	})
}

func (s *Session) logStreamOut(lc *liveConn, events []event.Event) {
	if s.protocolLogger == nil {
		return
	}
	msg := &log.MessageEvent{Type: log.MessageTypeStream}
	for _, ev := range events {
		if done, ok := ev.(event.SyncComplete); ok {
			id := done.ID
			msg.SyncID = &id
			continue
		}
		msg.Updates++
	}
	ev := log.Event{
		Direction: log.DirectionIn,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		Message:   msg,
	}
	// A single place update is attributed to that place.
	if len(events) == 1 && events[0].Kind() == event.KindPlace {
		ev.Place = events[0].Key()
	}
	s.emit(lc.id, ev)
}

// logStateFor logs a state change attributed to a place (may be empty)
// on the current connection.
func (s *Session) logStateFor(place string, entity log.StateEntity, oldState, newState, reason string) {
	if s.protocolLogger == nil {
		return
	}
	s.mu.Lock()
	connID := s.dialConnID
	s.mu.Unlock()

	s.emit(connID, log.Event{
		Layer:    log.LayerSession,
		Category: log.CategoryState,
		Place:    place,
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (s *Session) logError(connID, context string, err error) {
	if err == nil {
		return
	}
	s.emit(connID, log.Event{
		Layer:    log.LayerSession,
		Category: log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerSession,
			Message: err.Error(),
			Context: context,
		},
	})
}
