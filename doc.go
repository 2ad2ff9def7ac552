// Package reverb is a client for the Pusher WebSocket protocol (v7) as
// spoken by Laravel Reverb: connecting, subscribing to public, private,
// and presence channels, sending client events, and reconnecting with
// backoff across transient drops. The physical socket is supplied by an
// implementation of Transport — see transport/wsconn for the default
// github.com/gorilla/websocket adapter — so the core has no direct
// dependency on any particular websocket library.
package reverb
