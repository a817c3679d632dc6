package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AccountState is the durable part of a monitored account.
// Cursor "" means the account has not been bootstrapped yet.
type AccountState struct {
	UID         int64     `json:"uid"`
	Cursor      string    `json:"cursor"`
	DisplayName string    `json:"display_name,omitempty"`
	LastCheck   time.Time `json:"last_check,omitempty"`
}

// Store is the persistence API used by the monitor.
type Store interface {
	GetState(ctx context.Context, uid int64) (st AccountState, ok bool, err error)
	PutState(ctx context.Context, st AccountState) error
	ListStates(ctx context.Context) ([]AccountState, error)
	Close() error
}
