// Package coordinatortest provides an in-memory coordinator speaking the
// wire protocol over transport.Pipe, for end-to-end client tests.
package coordinatortest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/labgrid-ui/lgsync/pkg/transport"
	"github.com/labgrid-ui/lgsync/pkg/wire"
)

// ErrDown is returned by the dialer while the coordinator is down.
var ErrDown = errors.New("coordinator is down")

// Coordinator is a fake coordinator. The zero value is not usable; call New.
type Coordinator struct {
	mu sync.Mutex

	places       map[string]wire.Place
	resources    map[wire.Path]wire.Resource
	reservations map[string]wire.Reservation
	nextToken    int

	clients map[*client]struct{}
	dials   int
	down    bool

	holdSync     bool
	holdRequests bool
	held         []heldRequest
	rejections   map[wire.Method]rejection
	requests     []wire.Method

	wg sync.WaitGroup
}

type client struct {
	conn         transport.Conn
	name         string
	allPlaces    bool
	allResources bool
}

type heldRequest struct {
	c   *client
	req *wire.RawRequest
}

type rejection struct {
	status  wire.Status
	message string
}

// New creates an empty coordinator.
func New() *Coordinator {
	return &Coordinator{
		places:       make(map[string]wire.Place),
		resources:    make(map[wire.Path]wire.Resource),
		reservations: make(map[string]wire.Reservation),
		clients:      make(map[*client]struct{}),
		rejections:   make(map[wire.Method]rejection),
	}
}

// Dialer returns a dialer connecting clients to this coordinator.
func (co *Coordinator) Dialer() transport.Dialer {
	return transport.DialerFunc(func(ctx context.Context, endpoint string) (transport.Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, &transport.DialError{Stage: transport.StageDial, Endpoint: endpoint, Err: err}
		}

		co.mu.Lock()
		defer co.mu.Unlock()
		co.dials++
		if co.down {
			return nil, &transport.DialError{Stage: transport.StageDial, Endpoint: endpoint, Err: ErrDown}
		}

		local, remote := transport.Pipe()
		c := &client{conn: remote}
		co.clients[c] = struct{}{}
		co.wg.Add(1)
		go co.serve(c)
		return local, nil
	})
}

// SetDown makes further dials fail (true) or succeed (false).
func (co *Coordinator) SetDown(down bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.down = down
}

// Dials returns the number of dial attempts so far.
func (co *Coordinator) Dials() int {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.dials
}

// Clients returns the names announced by connected clients.
func (co *Coordinator) Clients() []string {
	co.mu.Lock()
	defer co.mu.Unlock()
	var names []string
	for c := range co.clients {
		names = append(names, c.name)
	}
	slices.Sort(names)
	return names
}

// DisconnectAll drops every client connection.
func (co *Coordinator) DisconnectAll() {
	co.mu.Lock()
	defer co.mu.Unlock()
	for c := range co.clients {
		_ = c.conn.Close()
	}
}

// Close disconnects everyone and waits for the serve loops.
func (co *Coordinator) Close() {
	co.SetDown(true)
	co.DisconnectAll()
	co.wg.Wait()
}

// HoldSync stops answering Sync requests while true.
func (co *Coordinator) HoldSync(hold bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.holdSync = hold
}

// HoldRequests queues unary requests unanswered while true. Releasing
// the hold answers them in order.
func (co *Coordinator) HoldRequests(hold bool) {
	co.mu.Lock()
	co.holdRequests = hold
	var held []heldRequest
	if !hold {
		held = co.held
		co.held = nil
	}
	co.mu.Unlock()

	for _, h := range held {
		co.answer(h.c, h.req)
	}
}

// HeldRequests returns the number of requests waiting for an answer.
func (co *Coordinator) HeldRequests() int {
	co.mu.Lock()
	defer co.mu.Unlock()
	return len(co.held)
}

// Reject makes the next call of method fail with status.
func (co *Coordinator) Reject(method wire.Method, status wire.Status, message string) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.rejections[method] = rejection{status: status, message: message}
}

// Requests returns the methods called so far, in order.
func (co *Coordinator) Requests() []wire.Method {
	co.mu.Lock()
	defer co.mu.Unlock()
	return slices.Clone(co.requests)
}

// PutPlace adds or replaces a place and streams it.
func (co *Coordinator) PutPlace(p wire.Place) {
	co.mu.Lock()
	defer co.mu.Unlock()
	_, exists := co.places[p.Name]
	co.places[p.Name] = p.Clone()
	op := wire.UpdateAdded
	if exists {
		op = wire.UpdateChanged
	}
	co.broadcastPlace(op, p)
}

// RemovePlace removes a place and streams the removal.
func (co *Coordinator) RemovePlace(name string) {
	co.mu.Lock()
	defer co.mu.Unlock()
	delete(co.places, name)
	co.broadcast(true, false, wire.Update{Op: wire.UpdateRemoved, PlaceName: name})
}

// PutResource adds or replaces a resource and streams it.
func (co *Coordinator) PutResource(r wire.Resource) {
	co.mu.Lock()
	defer co.mu.Unlock()
	key := r.Path
	_, exists := co.resources[key]
	co.resources[key] = r.Clone()
	op := wire.UpdateAdded
	if exists {
		op = wire.UpdateChanged
	}
	res := r.Clone()
	co.broadcast(false, true, wire.Update{Op: op, Resource: &res})
}

// RemoveResource removes a resource and streams the removal.
func (co *Coordinator) RemoveResource(path wire.Path) {
	co.mu.Lock()
	defer co.mu.Unlock()
	delete(co.resources, path)
	p := path
	co.broadcast(false, true, wire.Update{Op: wire.UpdateRemoved, Path: &p})
}

// SendRaw sends an arbitrary frame to every client.
func (co *Coordinator) SendRaw(frame []byte) {
	co.mu.Lock()
	defer co.mu.Unlock()
	for c := range co.clients {
		_ = c.conn.Send(frame)
	}
}

// Place returns the coordinator's copy of a place.
func (co *Coordinator) Place(name string) (wire.Place, bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	p, ok := co.places[name]
	return p.Clone(), ok
}

// PutReservation stores a reservation. Reservations are not streamed.
func (co *Coordinator) PutReservation(r wire.Reservation) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.reservations[r.Token] = r.Clone()
}

// DeleteReservation drops a reservation, as on expiry.
func (co *Coordinator) DeleteReservation(token string) {
	co.mu.Lock()
	defer co.mu.Unlock()
	delete(co.reservations, token)
}

func (co *Coordinator) broadcastPlace(op wire.UpdateOp, p wire.Place) {
	place := p.Clone()
	co.broadcast(true, false, wire.Update{Op: op, Place: &place})
}

// broadcast streams one update to subscribed clients. Called with mu held
// so every client sees updates in the same order.
func (co *Coordinator) broadcast(places, resources bool, u wire.Update) {
	frame, err := wire.EncodeStreamOut(&wire.StreamOut{Updates: []wire.Update{u}})
	if err != nil {
		panic(fmt.Sprintf("coordinatortest: encode update: %v", err))
	}
	for c := range co.clients {
		if (places && c.allPlaces) || (resources && c.allResources) {
			_ = c.conn.Send(frame)
		}
	}
}

func (co *Coordinator) serve(c *client) {
	defer co.wg.Done()
	defer func() {
		co.mu.Lock()
		delete(co.clients, c)
		co.mu.Unlock()
		_ = c.conn.Close()
	}()

	for {
		frame, err := c.conn.Receive()
		if err != nil {
			return
		}
		id, err := wire.PeekMessageID(frame)
		if err != nil {
			return
		}
		if id == wire.StreamMessageID {
			co.handleStream(c, frame)
			continue
		}
		req, err := wire.DecodeRequest(frame)
		if err != nil {
			return
		}

		co.mu.Lock()
		co.requests = append(co.requests, req.Method)
		if co.holdRequests {
			co.held = append(co.held, heldRequest{c: c, req: req})
			co.mu.Unlock()
			continue
		}
		co.mu.Unlock()
		co.answer(c, req)
	}
}

func (co *Coordinator) handleStream(c *client, frame []byte) {
	in, err := wire.DecodeStreamIn(frame)
	if err != nil {
		return
	}

	co.mu.Lock()
	defer co.mu.Unlock()

	switch in.Kind {
	case wire.StreamStartupDone:
		if startup, ok := in.Payload.(wire.StartupDone); ok {
			c.name = startup.Name
		}
	case wire.StreamSubscribe:
		sub, _ := in.Payload.(wire.Subscribe)
		if sub.AllPlaces {
			c.allPlaces = !sub.Unsubscribe
			if c.allPlaces {
				co.sendListing(c, co.placeUpdates())
			}
		}
		if sub.AllResources {
			c.allResources = !sub.Unsubscribe
			if c.allResources {
				co.sendListing(c, co.resourceUpdates())
			}
		}
	case wire.StreamSync:
		if co.holdSync {
			return
		}
		req, _ := in.Payload.(wire.Sync)
		frame, err := wire.EncodeStreamOut(&wire.StreamOut{SyncID: req.ID})
		if err == nil {
			_ = c.conn.Send(frame)
		}
	}
}

func (co *Coordinator) sendListing(c *client, updates []wire.Update) {
	if len(updates) == 0 {
		return
	}
	frame, err := wire.EncodeStreamOut(&wire.StreamOut{Updates: updates})
	if err == nil {
		_ = c.conn.Send(frame)
	}
}

func (co *Coordinator) placeUpdates() []wire.Update {
	var updates []wire.Update
	for _, name := range slices.Sorted(maps.Keys(co.places)) {
		p := co.places[name].Clone()
		updates = append(updates, wire.Update{Op: wire.UpdateAdded, Place: &p})
	}
	return updates
}

func (co *Coordinator) resourceUpdates() []wire.Update {
	var updates []wire.Update
	for _, key := range slices.SortedFunc(maps.Keys(co.resources), wire.ComparePaths) {
		r := co.resources[key].Clone()
		updates = append(updates, wire.Update{Op: wire.UpdateAdded, Resource: &r})
	}
	return updates
}

// answer executes a request and sends the response.
func (co *Coordinator) answer(c *client, req *wire.RawRequest) {
	co.mu.Lock()
	status, result, message := co.execute(c, req)
	co.mu.Unlock()

	frame, err := wire.EncodeResponse(req.MessageID, status, result, message)
	if err != nil {
		return
	}
	_ = c.conn.Send(frame)
}

// execute runs one call with mu held. Streamed updates go out before the
// response, as the coordinator does.
func (co *Coordinator) execute(c *client, req *wire.RawRequest) (wire.Status, any, string) {
	if r, ok := co.rejections[req.Method]; ok {
		delete(co.rejections, req.Method)
		return r.status, nil, r.message
	}

	switch req.Method {
	case wire.MethodAddPlace:
		ref, _ := wire.DecodePayload[wire.PlaceRef](req.Payload)
		if ref.Name == "" {
			return wire.StatusInvalidArgument, nil, "name was not a string"
		}
		if _, ok := co.places[ref.Name]; ok {
			return wire.StatusAlreadyExists, nil, fmt.Sprintf("Place %s already exists", ref.Name)
		}
		p := wire.Place{Name: ref.Name}
		co.places[p.Name] = p
		co.broadcastPlace(wire.UpdateAdded, p)

	case wire.MethodDeletePlace:
		ref, _ := wire.DecodePayload[wire.PlaceRef](req.Payload)
		if _, ok := co.places[ref.Name]; !ok {
			return wire.StatusNotFound, nil, fmt.Sprintf("Place %s does not exist", ref.Name)
		}
		delete(co.places, ref.Name)
		co.broadcast(true, false, wire.Update{Op: wire.UpdateRemoved, PlaceName: ref.Name})

	case wire.MethodAcquirePlace:
		ref, _ := wire.DecodePayload[wire.PlaceRef](req.Payload)
		p, ok := co.places[ref.Name]
		if !ok {
			return wire.StatusNotFound, nil, fmt.Sprintf("Place %s does not exist", ref.Name)
		}
		if p.Acquired != "" {
			return wire.StatusFailedPrecondition, nil, fmt.Sprintf("Place %s is already acquired", ref.Name)
		}
		p.Acquired = c.name
		co.updatePlace(p)

	case wire.MethodReleasePlace:
		rel, _ := wire.DecodePayload[wire.ReleasePlace](req.Payload)
		p, ok := co.places[rel.Placename]
		if !ok {
			return wire.StatusNotFound, nil, fmt.Sprintf("Place %s does not exist", rel.Placename)
		}
		if p.Acquired == "" {
			return wire.StatusFailedPrecondition, nil, fmt.Sprintf("Place %s is not acquired", rel.Placename)
		}
		if rel.FromUser != "" && p.Acquired != rel.FromUser {
			return wire.StatusFailedPrecondition, nil, fmt.Sprintf("Place %s is not acquired by %s", rel.Placename, rel.FromUser)
		}
		p.Acquired = ""
		p.AcquiredResources = nil
		p.Allowed = nil
		co.updatePlace(p)

	case wire.MethodAddPlaceMatch, wire.MethodDeletePlaceMatch:
		return co.changeMatch(req)

	case wire.MethodAddPlaceAlias, wire.MethodDeletePlaceAlias:
		a, _ := wire.DecodePayload[wire.PlaceAlias](req.Payload)
		p, ok := co.places[a.Placename]
		if !ok {
			return wire.StatusNotFound, nil, fmt.Sprintf("Place %s does not exist", a.Placename)
		}
		if req.Method == wire.MethodAddPlaceAlias {
			if p.HasAlias(a.Alias) {
				return wire.StatusAlreadyExists, nil, fmt.Sprintf("Alias %s already exists", a.Alias)
			}
			p.Aliases = append(p.Aliases, a.Alias)
		} else {
			if !p.HasAlias(a.Alias) {
				return wire.StatusNotFound, nil, fmt.Sprintf("Alias %s does not exist", a.Alias)
			}
			p.Aliases = slices.DeleteFunc(p.Aliases, func(s string) bool { return s == a.Alias })
		}
		co.updatePlace(p)

	case wire.MethodSetPlaceTags:
		pt, _ := wire.DecodePayload[wire.PlaceTags](req.Payload)
		p, ok := co.places[pt.Placename]
		if !ok {
			return wire.StatusNotFound, nil, fmt.Sprintf("Place %s does not exist", pt.Placename)
		}
		for k, v := range pt.Tags {
			if v == "" {
				delete(p.Tags, k)
				continue
			}
			if p.Tags == nil {
				p.Tags = make(map[string]string)
			}
			p.Tags[k] = v
		}
		co.updatePlace(p)

	case wire.MethodSetPlaceComment:
		pc, _ := wire.DecodePayload[wire.PlaceComment](req.Payload)
		p, ok := co.places[pc.Placename]
		if !ok {
			return wire.StatusNotFound, nil, fmt.Sprintf("Place %s does not exist", pc.Placename)
		}
		p.Comment = pc.Comment
		co.updatePlace(p)

	case wire.MethodAllowPlace:
		ap, _ := wire.DecodePayload[wire.AllowPlace](req.Payload)
		p, ok := co.places[ap.Placename]
		if !ok {
			return wire.StatusNotFound, nil, fmt.Sprintf("Place %s does not exist", ap.Placename)
		}
		if p.Acquired == "" {
			return wire.StatusFailedPrecondition, nil, fmt.Sprintf("Place %s is not acquired", ap.Placename)
		}
		if !slices.Contains(p.Allowed, ap.User) {
			p.Allowed = append(p.Allowed, ap.User)
		}
		co.updatePlace(p)

	case wire.MethodGetPlaces:
		list := wire.PlaceList{}
		for _, name := range slices.Sorted(maps.Keys(co.places)) {
			list.Places = append(list.Places, co.places[name].Clone())
		}
		return wire.StatusOK, list, ""

	case wire.MethodCreateReservation:
		cr, _ := wire.DecodePayload[wire.CreateReservation](req.Payload)
		if len(cr.Filters) == 0 {
			return wire.StatusInvalidArgument, nil, "reservation needs at least one filter"
		}
		co.nextToken++
		r := wire.Reservation{
			Owner:   c.name,
			Token:   fmt.Sprintf("RES%04d", co.nextToken),
			State:   wire.ReservationWaiting,
			Prio:    cr.Prio,
			Filters: cr.Filters,
		}
		co.reservations[r.Token] = r
		return wire.StatusOK, wire.ReservationResult{Reservation: r.Clone()}, ""

	case wire.MethodCancelReservation, wire.MethodPollReservation:
		tok, _ := wire.DecodePayload[wire.ReservationToken](req.Payload)
		r, ok := co.reservations[tok.Token]
		if !ok {
			return wire.StatusNotFound, nil, fmt.Sprintf("Reservation %s does not exist", tok.Token)
		}
		if req.Method == wire.MethodCancelReservation {
			delete(co.reservations, tok.Token)
			return wire.StatusOK, nil, ""
		}
		return wire.StatusOK, wire.ReservationResult{Reservation: r.Clone()}, ""

	case wire.MethodGetReservations:
		list := wire.ReservationList{Reservations: []wire.Reservation{}}
		for _, token := range slices.Sorted(maps.Keys(co.reservations)) {
			list.Reservations = append(list.Reservations, co.reservations[token].Clone())
		}
		return wire.StatusOK, list, ""

	default:
		return wire.StatusUnknown, nil, "unsupported method " + req.Method.String()
	}
	return wire.StatusOK, nil, ""
}

func (co *Coordinator) updatePlace(p wire.Place) {
	co.places[p.Name] = p
	co.broadcastPlace(wire.UpdateChanged, p)
}

func (co *Coordinator) changeMatch(req *wire.RawRequest) (wire.Status, any, string) {
	pm, _ := wire.DecodePayload[wire.PlaceMatch](req.Payload)
	p, ok := co.places[pm.Placename]
	if !ok {
		return wire.StatusNotFound, nil, fmt.Sprintf("Place %s does not exist", pm.Placename)
	}
	rule, err := wire.ParseResourceMatch(pm.Pattern)
	if err != nil {
		return wire.StatusInvalidArgument, nil, err.Error()
	}
	rule.Rename = pm.Rename

	idx := slices.IndexFunc(p.Matches, func(m wire.ResourceMatch) bool {
		return strings.EqualFold(m.String(), rule.String()) && m.Rename == rule.Rename
	})
	if req.Method == wire.MethodAddPlaceMatch {
		if idx >= 0 {
			return wire.StatusAlreadyExists, nil, fmt.Sprintf("Match %s already exists", pm.Pattern)
		}
		p.Matches = append(p.Matches, rule)
	} else {
		if idx < 0 {
			return wire.StatusNotFound, nil, fmt.Sprintf("Match %s does not exist", pm.Pattern)
		}
		p.Matches = slices.Delete(p.Matches, idx, idx+1)
	}
	co.updatePlace(p)
	return wire.StatusOK, nil, ""
}
