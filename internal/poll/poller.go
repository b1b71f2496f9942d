// Package poll runs the inbound update loop: it long-polls the bot
// transport for private messages asking for a token, issues one, and
// replies with the claim URL.
package poll

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/titlebot/internal/botapi"
	"github.com/dgnsrekt/titlebot/internal/state"
)

// tokenCommand marks a private message as a token request.
const tokenCommand = "/t"

// idlePause spaces out polls when a batch came back, so a busy chat
// cannot turn the loop into a hot spin. errorPause does the same for a
// failing transport.
const (
	idlePause  = 200 * time.Millisecond
	errorPause = 2 * time.Second
)

type Issuer interface {
	Issue(memberID string) (string, error)
}

type Poller struct {
	bot         botapi.Client
	issuer      Issuer
	store       *state.Store
	baseURL     string
	pollTimeout time.Duration
	logger      *zap.Logger
}

func New(bot botapi.Client, issuer Issuer, store *state.Store, baseURL string, pollTimeout time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		bot:         bot,
		issuer:      issuer,
		store:       store,
		baseURL:     baseURL,
		pollTimeout: pollTimeout,
		logger:      logger,
	}
}

// Run polls until the context is cancelled. Fetch errors are logged
// and retried forever; the loop itself never dies. The offset advances
// only after a whole batch has been processed, so a crash in between
// redelivers the batch (issuing a second token for the same request is
// harmless, the newest one wins).
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("update poller started", zap.Int64("offset", p.store.Offset()))

	for {
		if ctx.Err() != nil {
			p.logger.Info("update poller stopped")
			return
		}

		updates, err := p.bot.GetUpdates(ctx, p.store.Offset(), p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("update poller stopped")
				return
			}
			p.logger.Warn("get updates failed", zap.Error(err))
			select {
			case <-ctx.Done():
				p.logger.Info("update poller stopped")
				return
			case <-time.After(errorPause):
			}
			continue
		}

		if len(updates) > 0 {
			p.logger.Debug("updates received", zap.Int("count", len(updates)))
			for _, upd := range updates {
				p.process(ctx, upd)
			}
			p.store.SetOffset(updates[len(updates)-1].UpdateID + 1)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("update poller stopped")
			return
		case <-time.After(idlePause):
		}
	}
}

// process handles one update. Anything that is not a private token
// request is ignored; failures are logged and never stop the loop.
func (p *Poller) process(ctx context.Context, upd botapi.Update) {
	msg := upd.Message
	if msg == nil || msg.From == nil {
		return
	}
	if msg.Chat.Type != "private" || !strings.HasPrefix(msg.Text, tokenCommand) {
		return
	}

	memberID := state.FormatID(msg.From.ID)
	tok, err := p.issuer.Issue(memberID)
	if err != nil {
		p.logger.Error("token issue failed",
			zap.String("member", memberID),
			zap.Error(err),
		)
		return
	}

	if err := p.bot.SendMessage(ctx, msg.Chat.ID, p.baseURL+tok); err != nil {
		p.logger.Warn("token delivery failed",
			zap.String("member", memberID),
			zap.Error(err),
		)
		return
	}

	p.logger.Info("token sent", zap.String("member", memberID))
}
