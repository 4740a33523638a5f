package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/petervdpas/peercall/internal/config"
)

// Options configures Run.
type Options struct {
	// DataDir holds the config file and local databases.
	DataDir string
	// CfgPath is the config file location, watched for changes.
	CfgPath string
	Cfg     config.Config

	// Console attaches the interactive command loop to stdin/stdout.
	Console bool
}

// Run starts the client and blocks until ctx is cancelled or the signaling
// channel is lost.
func Run(ctx context.Context, opt Options) error {
	client, err := NewClient(opt.DataDir, opt.Cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return err
	}

	// Apply supported config changes without a restart.
	go func() {
		err := config.Watch(ctx, opt.CfgPath, func(next config.Config) {
			client.Engine.SetRingTimeout(time.Duration(next.Call.RingTimeoutSec) * time.Second)
			log.Info().Int("ring_timeout_seconds", next.Call.RingTimeoutSec).Msg("app: config reloaded")
		})
		if err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("app: config watch stopped")
		}
	}()

	go logNotices(ctx, client)
	go logRoster(ctx, client)

	if opt.Console {
		go runConsole(ctx, client)
	}

	client.Engine.Run(ctx.Done(), client.Channel.Events())

	select {
	case <-ctx.Done():
		return nil
	default:
	}
	log.Warn().Msg("app: signaling channel lost, exiting")
	return nil
}

func logNotices(ctx context.Context, client *Client) {
	for {
		select {
		case n := <-client.Engine.Notices():
			log.Info().Str("kind", string(n.Kind)).Str("peer", n.Peer.ID).Msg(n.Text)
		case <-ctx.Done():
			return
		}
	}
}

func logRoster(ctx context.Context, client *Client) {
	ch := client.Roster.Subscribe()
	defer client.Roster.Unsubscribe(ch)
	for {
		select {
		case evt := <-ch:
			log.Info().Int("online", len(evt.Peers)).Msg("app: roster updated")
		case <-ctx.Done():
			return
		}
	}
}
