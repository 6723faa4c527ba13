// Package voice is the composition root of a voice editing session.
//
// A Controller wires the media manager, the control-channel handler and the
// tool registry together and exposes connect, disconnect and mute controls
// plus a read-only Status projection to the web layer.
//
// # Usage
//
//	ctrl, err := voice.NewController(voice.Config{
//	    Media:    mediaManager,
//	    Registry: tools.NewDefaultRegistry(logger, editCfg),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	updates, unsubscribe := ctrl.Subscribe()
//	defer unsubscribe()
//
//	if err := ctrl.Connect(ctx); err != nil {
//	    log.Printf("connect: %v", err)
//	}
//
// # Invariants
//
// The activity is idle or error whenever the connection is not connected.
// Each Connect creates a fresh protocol handler, so the set of dispatched
// function call ids never outlives its session. There is no automatic
// reconnect; after a failure the caller connects again.
package voice
