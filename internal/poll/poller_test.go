package poll

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/titlebot/internal/botapi"
	"github.com/dgnsrekt/titlebot/internal/state"
)

type mockBot struct {
	mu      sync.Mutex
	batches [][]botapi.Update
	offsets []int64
	sent    []sentMessage
}

type sentMessage struct {
	chatID int64
	text   string
}

func (m *mockBot) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]botapi.Update, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.offsets = append(m.offsets, offset)
	if len(m.batches) == 0 {
		return nil, nil
	}
	batch := m.batches[0]
	m.batches = m.batches[1:]
	return batch, nil
}

func (m *mockBot) SendMessage(ctx context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (m *mockBot) sentMessages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

type stubIssuer struct {
	mu     sync.Mutex
	issued []string
}

func (s *stubIssuer) Issue(memberID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued = append(s.issued, memberID)
	return "tok-" + memberID, nil
}

func privateMessage(updateID, fromID, chatID int64, text string) botapi.Update {
	return botapi.Update{
		UpdateID: updateID,
		Message: &botapi.Message{
			From: &botapi.User{ID: fromID},
			Chat: botapi.Chat{ID: chatID, Type: "private"},
			Text: text,
		},
	}
}

func runPollerUntil(t *testing.T, p *Poller, cond func() bool) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatal("poller did not reach expected state")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestPollerIssuesToken(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	store := state.NewStore(logger)

	bot := &mockBot{
		batches: [][]botapi.Update{{
			privateMessage(100, 42, 4242, "/t"),
		}},
	}
	issuer := &stubIssuer{}

	p := New(bot, issuer, store, "https://title.example/#", time.Second, logger)

	runPollerUntil(t, p, func() bool {
		return len(bot.sentMessages()) > 0 && store.Offset() == 101
	})

	sent := bot.sentMessages()
	if sent[0].chatID != 4242 {
		t.Errorf("reply should go to the private chat, got %d", sent[0].chatID)
	}
	if sent[0].text != "https://title.example/#tok-42" {
		t.Errorf("expected claim URL plus token, got %q", sent[0].text)
	}
	if store.Offset() != 101 {
		t.Errorf("offset should advance past the batch, got %d", store.Offset())
	}
}

func TestPollerIgnoresIrrelevantUpdates(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	store := state.NewStore(logger)

	group := privateMessage(200, 1, 10, "/t")
	group.Message.Chat.Type = "supergroup"

	bot := &mockBot{
		batches: [][]botapi.Update{{
			group,
			privateMessage(201, 2, 20, "hello"),
			{UpdateID: 202}, // no message payload at all
		}},
	}
	issuer := &stubIssuer{}

	p := New(bot, issuer, store, "https://title.example/#", time.Second, logger)

	runPollerUntil(t, p, func() bool { return store.Offset() == 203 })

	if len(issuer.issued) != 0 {
		t.Errorf("no tokens should be issued, got %v", issuer.issued)
	}
	if len(bot.sentMessages()) != 0 {
		t.Error("no replies should be sent")
	}
}

func TestPollerResumesFromPersistedOffset(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	store := state.NewStore(logger)
	store.SetOffset(500)

	bot := &mockBot{}
	p := New(bot, &stubIssuer{}, store, "https://title.example/#", time.Second, logger)

	runPollerUntil(t, p, func() bool {
		bot.mu.Lock()
		defer bot.mu.Unlock()
		return len(bot.offsets) > 0
	})

	bot.mu.Lock()
	first := bot.offsets[0]
	bot.mu.Unlock()
	if first != 500 {
		t.Errorf("poll should start from the persisted offset, got %d", first)
	}
}
