// Package store wraps the realtime key-path data store every peer shares.
//
// The store offers per-path last-write-wins and nothing more: no transactions,
// no conditional writes, no ordering across paths. Values are JSON-like trees.
package store

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned for operations attempted before a backend is attached.
	ErrUnavailable = errors.New("store: backend unavailable")
	// ErrClosed is returned by backends after Close.
	ErrClosed = errors.New("store: backend closed")
)

// Handler receives the value at a subscribed path. exists is false when the
// path holds nothing.
type Handler func(value any, exists bool)

// Backend is the contract of the third-party store.
type Backend interface {
	// Set overwrites the value at path; nil deletes.
	Set(path string, value any) error
	// Update shallow-merges partial into path. Keys may contain slashes.
	Update(path string, partial map[string]any) error
	// Once reads the value at path a single time.
	Once(ctx context.Context, path string) (any, bool, error)
	// On fires h with the current value, then on every change. The returned
	// func cancels the subscription.
	On(path string, h Handler) (cancel func())
}

// Dispatcher schedules a callback onto the owner's scheduler.
type Dispatcher func(fn func())

// Immediate runs callbacks inline.
func Immediate(fn func()) { fn() }
