package domain

import (
	"context"
	"time"
)

// UserRecord is the persisted per-user state.
type UserRecord struct {
	ID        string
	Banned    bool
	Warnings  int
	Energy    int
	UpdatedAt time.Time
}

// RentalRecord tracks a group's time-boxed subscription.
type RentalRecord struct {
	Active         bool
	StartedAt      time.Time
	EndsAt         time.Time
	LastReminderAt time.Time
}

// GroupRecord is the persisted per-group state.
type GroupRecord struct {
	ID            string
	Muted         bool
	Rental        RentalRecord
	BuyerGroup    bool
	ResellerGroup bool
	AntiSticker   bool
	AntiImage     bool
	AntiVideo     bool
	AntiAudio     bool
	JoinedAt      time.Time
	UpdatedAt     time.Time
}

// ResourceRecord is a provisioned resource (e.g. a panel server) subject
// to auto-suspension once its expiry is long past.
type ResourceRecord struct {
	ID            string
	Owner         string
	ExpiresAt     time.Time
	Suspended     bool
	SuspendedAt   time.Time
	SuspendReason string
	CreatedAt     time.Time
}

// Store is the persistent key-value collaborator. Reads return a
// zero-value record (never nil) when the key is unknown, so callers can
// treat absence as default state.
type Store interface {
	User(ctx context.Context, id string) (*UserRecord, error)
	PutUser(ctx context.Context, u *UserRecord) error
	Group(ctx context.Context, id string) (*GroupRecord, error)
	PutGroup(ctx context.Context, g *GroupRecord) error
	Groups(ctx context.Context) ([]GroupRecord, error)
	Resource(ctx context.Context, id string) (*ResourceRecord, error)
	PutResource(ctx context.Context, r *ResourceRecord) error
	Resources(ctx context.Context) ([]ResourceRecord, error)
	Alias(ctx context.Context, alias string) (string, error)
	PutAlias(ctx context.Context, alias, canonical string) error
	Close() error
}
