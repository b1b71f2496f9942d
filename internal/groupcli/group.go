package groupcli

import (
	"context"
	"fmt"

	"github.com/dgnsrekt/titlebot/internal/state"
)

// GroupHandle is the uniform capability over the two group shapes:
// fetch the member roster, fetch the title, rename the group.
type GroupHandle interface {
	Kind() GroupKind
	FetchMembers(ctx context.Context) (map[string]state.Member, error)
	FetchTitle(ctx context.Context) (string, error)
	Rename(ctx context.Context, title string) (RenameResult, error)
}

// Group returns a handle for the configured group. pageSize only
// matters for channels.
func (c *Client) Group(kind GroupKind, id int64, pageSize int) GroupHandle {
	switch kind {
	case KindChat:
		return &chatGroup{client: c, id: id}
	default:
		return &channelGroup{client: c, id: id, pageSize: pageSize}
	}
}

func peerName(kind GroupKind, id int64) string {
	return fmt.Sprintf("%s#id%d", kind, id)
}

type renameParams struct {
	Peer  string `json:"peer"`
	Title string `json:"title"`
}

func (c *Client) rename(ctx context.Context, peer, title string) (RenameResult, error) {
	var res RenameResult
	if err := c.call(ctx, "rename", renameParams{Peer: peer, Title: title}, &res); err != nil {
		return RenameResult{}, err
	}
	return res, nil
}

// channelGroup pages channel_get_members until an empty page comes
// back, then reads the title off channel_info.
type channelGroup struct {
	client   *Client
	id       int64
	pageSize int
}

type channelMembersParams struct {
	Peer   string `json:"peer"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type peerParams struct {
	Peer string `json:"peer"`
}

func (g *channelGroup) Kind() GroupKind { return KindChannel }

func (g *channelGroup) FetchMembers(ctx context.Context) (map[string]state.Member, error) {
	peer := peerName(KindChannel, g.id)
	members := make(map[string]state.Member)

	for offset := 0; ; offset += g.pageSize {
		var page []state.Member
		err := g.client.call(ctx, "channel_get_members", channelMembersParams{
			Peer:   peer,
			Limit:  g.pageSize,
			Offset: offset,
		}, &page)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			members[state.FormatID(m.ID)] = m
		}
	}

	return members, nil
}

func (g *channelGroup) FetchTitle(ctx context.Context) (string, error) {
	var info infoResult
	if err := g.client.call(ctx, "channel_info", peerParams{Peer: peerName(KindChannel, g.id)}, &info); err != nil {
		return "", err
	}
	return info.Title, nil
}

func (g *channelGroup) Rename(ctx context.Context, title string) (RenameResult, error) {
	return g.client.rename(ctx, peerName(KindChannel, g.id), title)
}

// chatGroup gets title and members in one chat_info call.
type chatGroup struct {
	client *Client
	id     int64
}

func (g *chatGroup) Kind() GroupKind { return KindChat }

func (g *chatGroup) info(ctx context.Context) (infoResult, error) {
	var info infoResult
	if err := g.client.call(ctx, "chat_info", peerParams{Peer: peerName(KindChat, g.id)}, &info); err != nil {
		return infoResult{}, err
	}
	return info, nil
}

func (g *chatGroup) FetchMembers(ctx context.Context) (map[string]state.Member, error) {
	info, err := g.info(ctx)
	if err != nil {
		return nil, err
	}

	members := make(map[string]state.Member, len(info.Members))
	for _, m := range info.Members {
		members[state.FormatID(m.ID)] = m
	}
	return members, nil
}

func (g *chatGroup) FetchTitle(ctx context.Context) (string, error) {
	info, err := g.info(ctx)
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (g *chatGroup) Rename(ctx context.Context, title string) (RenameResult, error) {
	return g.client.rename(ctx, peerName(KindChat, g.id), title)
}
