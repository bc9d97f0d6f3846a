package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/bitchat-mesh/internal/router"
	"github.com/gosuda/bitchat-mesh/internal/transport"
)

// serveWS runs the inbound websocket listener (peer connections arrive at
// /mesh) and drains wt's event channel into the router, until ctx is
// canceled.
func serveWS(ctx context.Context, rt *router.Router, wt *wsTransport, listenAddr string) {
	mux := chi.NewRouter()
	mux.Get("/mesh", wt.acceptHandler)

	srv := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", listenAddr).Msg("mesh listener stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	for {
		select {
		case ev, ok := <-wt.Events():
			if !ok {
				return
			}
			dispatchEvent(ctx, rt, wt.Name(), ev)
		case <-ctx.Done():
			return
		}
	}
}

func dispatchEvent(ctx context.Context, rt *router.Router, transportName string, ev transport.Event) {
	switch ev.Kind {
	case transport.EventReceived:
		if err := rt.HandleInbound(ctx, transportName, ev.Addr, ev.Data); err != nil {
			log.Debug().Err(err).Str("peer", string(ev.Addr)).Msg("inbound packet handling error")
		}
	case transport.EventConnected:
		log.Info().Str("peer", string(ev.Addr)).Msg("peer connected")
	case transport.EventDisconnected:
		log.Info().Str("peer", string(ev.Addr)).Msg("peer disconnected")
	}
}
