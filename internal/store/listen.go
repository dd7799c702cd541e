package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Channel names the three pub/sub notification channels (spec.md §6).
type Channel string

const (
	ChannelTelemetryInserted Channel = "telemetry_inserted"
	ChannelNewFleetAlert     Channel = "new_fleet_alert"
	ChannelNewDeliveryJob    Channel = "new_delivery_job"
)

// Listener owns the dedicated LISTEN connection and reconnects it on
// failure with a short retry interval, per spec.md §7 ("the listener
// maintenance task reopens the dedicated LISTEN connection").
type Listener struct {
	dsn     string
	channel Channel
	wake    chan struct{}
}

// NewListener constructs a Listener for one channel. dsn should be the
// NOTIFY_DATABASE_URL (falls back to DATABASE_URL when unset), bypassing
// any pgbouncer-style pooler that does not preserve LISTEN session state.
func NewListener(dsn string, channel Channel) *Listener {
	return &Listener{dsn: dsn, channel: channel, wake: make(chan struct{}, 1)}
}

// Wake returns a channel that receives a value (best-effort, coalesced)
// each time a notification arrives. Callers select on it alongside a
// fallback ticker, since notifications are a liveness hint only.
func (l *Listener) Wake() <-chan struct{} { return l.wake }

// Run maintains the LISTEN connection until ctx is cancelled, reconnecting
// on any error after a short backoff.
func (l *Listener) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := l.runOnce(ctx); err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (l *Listener) runOnce(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "LISTEN \""+string(l.channel)+"\""); err != nil {
		return err
	}

	for {
		if _, err := conn.WaitForNotification(ctx); err != nil {
			return err
		}
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
}
