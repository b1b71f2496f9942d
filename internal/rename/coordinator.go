package rename

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/titlebot/internal/groupcli"
	"github.com/dgnsrekt/titlebot/internal/state"
	"github.com/dgnsrekt/titlebot/internal/token"
)

// maxTitleLen is the platform limit on the full prefixed title, in
// characters.
const maxTitleLen = 255

const announceTimeout = 30 * time.Second

var (
	ErrInvalidToken = token.ErrInvalidToken
	// ErrTitleTooLong: prefix plus sanitized title exceeds the platform
	// limit.
	ErrTitleTooLong = errors.New("title too long")
	// ErrRenameFailed: transport-level failure reaching the rename
	// collaborator. Nothing was mutated and the token stays valid so
	// the user can retry.
	ErrRenameFailed = errors.New("rename failed")
	// ErrRenameRejected: the remote side explicitly refused. The token
	// stays valid; a different title might be accepted.
	ErrRenameRejected = errors.New("rename rejected")
)

// Announcer sends the post-rename announcement through the messaging
// transport.
type Announcer interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Result reports a completed rename: the display title (without
// prefix), the prefix, and the remote outcome.
type Result struct {
	Title  string
	Prefix string
	Remote groupcli.RenameResult
}

// Coordinator runs the rename workflow: verify token, sanitize, call
// the remote rename, commit locally, revoke, announce.
//
// Concurrent renames are last-writer-wins: commits are serialized by
// the store lock, each successful remote rename commits its own title
// and revokes its own member's token, so a losing writer's revocation
// is applied even when its title is immediately overwritten.
type Coordinator struct {
	tokens         *token.Service
	store          *state.Store
	group          groupcli.GroupHandle
	announcer      Announcer
	prefix         string
	announceChatID int64
	logger         *zap.Logger
}

func NewCoordinator(tokens *token.Service, store *state.Store, group groupcli.GroupHandle, announcer Announcer, prefix string, announceChatID int64, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		tokens:         tokens,
		store:          store,
		group:          group,
		announcer:      announcer,
		prefix:         prefix,
		announceChatID: announceChatID,
		logger:         logger,
	}
}

// Rename changes the group title on behalf of the token's member. The
// remote call runs with no lock held; only the final commit takes the
// state lock.
func (c *Coordinator) Rename(ctx context.Context, tokenString, requested string) (Result, error) {
	memberID, err := c.tokens.Verify(tokenString)
	if err != nil {
		return Result{}, ErrInvalidToken
	}

	title := Sanitize(requested)
	full := c.prefix + title
	if utf8.RuneCountInString(full) > maxTitleLen {
		return Result{}, ErrTitleTooLong
	}

	opID := uuid.New().String()
	c.logger.Info("rename requested",
		zap.String("op", opID),
		zap.String("member", memberID),
		zap.String("title", full),
	)

	remote, err := c.group.Rename(ctx, full)
	if err != nil {
		c.logger.Warn("rename transport failure",
			zap.String("op", opID),
			zap.Error(err),
		)
		return Result{}, fmt.Errorf("%w: %v", ErrRenameFailed, err)
	}
	if !remote.Success() {
		c.logger.Info("rename rejected remotely",
			zap.String("op", opID),
			zap.String("status", remote.Status),
		)
		return Result{Title: title, Prefix: c.prefix, Remote: remote}, ErrRenameRejected
	}

	c.store.CommitTitle(full, memberID)

	c.logger.Info("title changed",
		zap.String("op", opID),
		zap.String("member", memberID),
		zap.String("title", full),
	)

	c.announce(memberID)

	return Result{Title: title, Prefix: c.prefix, Remote: remote}, nil
}

// announce names the acting member in the announcement chat. Fire and
// forget: the rename is already committed, a delivery failure is only
// logged.
func (c *Coordinator) announce(memberID string) {
	member, ok := c.store.Member(memberID)
	if !ok {
		c.logger.Warn("renaming member missing from roster", zap.String("member", memberID))
		return
	}

	text := fmt.Sprintf("%s 修改了群组名称。", member.DisplayName())

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
		defer cancel()

		if err := c.announcer.SendMessage(ctx, c.announceChatID, text); err != nil {
			c.logger.Warn("announcement failed", zap.Error(err))
		}
	}()
}
