// internal/websocket/errors.go
package websocket

import "errors"

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrBroadcastQueueFull = errors.New("websocket broadcast queue is full")
)
