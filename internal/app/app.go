// Package app assembles the client: contact store, signaling channel, media
// engine and call engine, wired together from one Config.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/petervdpas/peercall/internal/call"
	"github.com/petervdpas/peercall/internal/chat"
	"github.com/petervdpas/peercall/internal/config"
	"github.com/petervdpas/peercall/internal/contacts"
	"github.com/petervdpas/peercall/internal/history"
	"github.com/petervdpas/peercall/internal/media"
	"github.com/petervdpas/peercall/internal/proto"
	"github.com/petervdpas/peercall/internal/roster"
	"github.com/petervdpas/peercall/internal/signal"
	"github.com/petervdpas/peercall/internal/util"
)

// Client owns all parts of a running call client.
type Client struct {
	Self     proto.User
	Channel  *signal.Channel
	Engine   *call.Engine
	Roster   *roster.Table
	Recorder *history.Recorder
	Thread   *chat.Thread
	Store    *contacts.Store

	cfg config.Config
}

// NewClient builds a client from config. DataDir anchors relative storage
// paths.
func NewClient(dataDir string, cfg config.Config) (*Client, error) {
	self := proto.User{
		ID:          cfg.Identity.ID,
		DisplayName: cfg.Identity.DisplayName,
		PhotoURL:    cfg.Identity.PhotoURL,
	}

	store, err := contacts.Open(util.ResolvePath(dataDir, cfg.Storage.ContactsDBFile))
	if err != nil {
		return nil, fmt.Errorf("open contact store: %w", err)
	}

	clk := clock.New()
	tbl := roster.NewTable(self.ID)
	rec := history.NewRecorder(cfg.Call.HistoryLimit, clk)
	thread := chat.NewThread()
	mediaEng := media.NewEngine(cfg.Media)
	channel := signal.New(cfg.Signal.ServerURL, self)

	engine := call.NewEngine(self, call.Deps{
		Send: channel,
		NewMedia: func(peerID string, fn media.SignalFunc) (call.MediaSession, error) {
			return mediaEng.NewSession(peerID, fn)
		},
		Roster:      tbl,
		Recorder:    rec,
		Thread:      thread,
		Clock:       clk,
		RingTimeout: time.Duration(cfg.Call.RingTimeoutSec) * time.Second,
		Blocked:     store.Blocked,
	})

	return &Client{
		Self:     self,
		Channel:  channel,
		Engine:   engine,
		Roster:   tbl,
		Recorder: rec,
		Thread:   thread,
		Store:    store,
		cfg:      cfg,
	}, nil
}

// Connect dials the signaling server and announces the local user.
func (c *Client) Connect(ctx context.Context) error {
	timeout := time.Duration(c.cfg.Signal.ConnectTimeoutSec) * time.Second
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Channel.Connect(dialCtx)
}

// Close releases the client's resources.
func (c *Client) Close() {
	c.Channel.Close()
	if err := c.Store.Close(); err != nil {
		log.Warn().Err(err).Msg("app: close contact store")
	}
}
