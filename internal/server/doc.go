// Package server implements the Agora connection server: WebSocket sessions,
// the hub that routes their frames to topics, and the HTTP wiring around it.
//
// The implementation is organized into specialized files for configuration,
// hub management, sessions, dispatch, routing, and HTTP handlers.
package server
