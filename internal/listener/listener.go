// Package listener consumes the cli bridge's live event stream and
// merges observed member and title changes into the state store.
package listener

import (
	"context"

	"go.uber.org/zap"

	"github.com/dgnsrekt/titlebot/internal/groupcli"
	"github.com/dgnsrekt/titlebot/internal/state"
)

type Listener struct {
	store   *state.Store
	kind    groupcli.GroupKind
	groupID int64
	logger  *zap.Logger
}

func New(store *state.Store, kind groupcli.GroupKind, groupID int64, logger *zap.Logger) *Listener {
	return &Listener{
		store:   store,
		kind:    kind,
		groupID: groupID,
		logger:  logger,
	}
}

// Run drains the event stream until the context is cancelled or the
// stream closes. A bad event is logged and skipped; the stream is
// never aborted.
func (l *Listener) Run(ctx context.Context, events <-chan groupcli.Event) {
	l.logger.Info("membership listener started",
		zap.String("kind", string(l.kind)),
		zap.Int64("group", l.groupID),
	)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("membership listener stopped")
			return
		case ev, ok := <-events:
			if !ok {
				l.logger.Warn("event stream closed")
				return
			}
			l.handle(ev)
		}
	}
}

// handle merges one event if it is a message inside the configured
// group; everything else is ignored.
func (l *Listener) handle(ev groupcli.Event) {
	if ev.Kind != "message" {
		return
	}
	if ev.From == nil || ev.To == nil {
		l.logger.Debug("ignoring malformed message event")
		return
	}
	if ev.To.PeerID != l.groupID || ev.To.PeerKind != string(l.kind) {
		return
	}

	l.store.MergeEvent(*ev.From, ev.To.Title)
	l.logger.Debug("member merged",
		zap.Int64("member", ev.From.ID),
		zap.String("title", ev.To.Title),
	)
}
