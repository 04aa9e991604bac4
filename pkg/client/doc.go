// Package client keeps a local snapshot of a labgrid coordinator in sync
// and sends commands to it.
//
// A Session owns one coordinator connection at a time. Every connection
// starts with a full resync; until it completes the previous snapshot
// stays readable and is reported as stale. Inbound frames are applied by
// a single pump goroutine in arrival order, so readers never observe a
// partially applied change.
//
// Basic usage:
//
//	cfg, _ := config.Load("")
//	s, err := client.New(cfg, client.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	_ = s.Start(ctx)
//
//	h, view, _ := s.Subscribe(subscription.Place("rpi4"))
//	defer h.Close()
//	render(view)
//	for {
//	    n, err := h.Next(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    render(s.View())
//	    _ = n
//	}
package client
