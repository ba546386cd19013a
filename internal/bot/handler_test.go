package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aspect-cloud/asearch/internal/committee"
	"github.com/aspect-cloud/asearch/internal/history"
	"github.com/aspect-cloud/asearch/internal/keypool"
	"github.com/aspect-cloud/asearch/internal/messenger"
	"github.com/aspect-cloud/asearch/internal/provider/gemini"
)

type sentMsg struct {
	Chat string
	ID   string
	Text string
}

// fakeMessenger records outgoing traffic and serves scripted downloads.
type fakeMessenger struct {
	mu        sync.Mutex
	sends     []sentMsg
	updates   []sentMsg
	deletes   []string
	downloads map[string][]byte
	handler   messenger.MessageHandler
	nextID    int
}

func (f *fakeMessenger) Connect() error                                { return nil }
func (f *fakeMessenger) Disconnect()                                   {}
func (f *fakeMessenger) GetState() messenger.ConnectionState           { return messenger.StateConnected }
func (f *fakeMessenger) OnMessage(h messenger.MessageHandler)          { f.handler = h }
func (f *fakeMessenger) OnConnectionEvent(messenger.ConnectionHandler) {}
func (f *fakeMessenger) Name() string                                  { return "fake" }

func (f *fakeMessenger) Send(chatID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("ts-%d", f.nextID)
	f.sends = append(f.sends, sentMsg{Chat: chatID, ID: id, Text: text})
	return id, nil
}

func (f *fakeMessenger) Update(chatID, messageID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, sentMsg{Chat: chatID, ID: messageID, Text: text})
	return nil
}

func (f *fakeMessenger) Delete(chatID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, messageID)
	return nil
}

func (f *fakeMessenger) DownloadFile(ref messenger.FileRef) ([]byte, error) {
	if data, ok := f.downloads[ref.URL]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("no scripted download for %s", ref.URL)
}

func (f *fakeMessenger) lastUpdate(t *testing.T) sentMsg {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		t.Fatal("no updates recorded")
	}
	return f.updates[len(f.updates)-1]
}

// fakeCompleter dispatches on the system prompt so one fake can serve
// experts and the synthesizer in the same run.
type fakeCompleter struct {
	mu   sync.Mutex
	reqs []gemini.Request
	fn   func(req gemini.Request) (*gemini.Result, error)
}

func (f *fakeCompleter) Complete(_ context.Context, req gemini.Request) (*gemini.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeCompleter) recorded() []gemini.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gemini.Request(nil), f.reqs...)
}

type uploadedFile struct {
	Key, MIMEType, Name string
	Data                []byte
}

type fakeFiles struct {
	uploads []uploadedFile
	deletes []string
	nextID  int
}

func (f *fakeFiles) UploadFile(_ context.Context, apiKey string, r io.Reader, mimeType, displayName string) (*gemini.File, error) {
	data, _ := io.ReadAll(r)
	f.nextID++
	f.uploads = append(f.uploads, uploadedFile{Key: apiKey, MIMEType: mimeType, Name: displayName, Data: data})
	return &gemini.File{
		Name:     fmt.Sprintf("files/f%d", f.nextID),
		URI:      fmt.Sprintf("https://files.example/f%d", f.nextID),
		MIMEType: mimeType,
	}, nil
}

func (f *fakeFiles) DeleteFile(_ context.Context, _ string, name string) error {
	f.deletes = append(f.deletes, name)
	return nil
}

const (
	expertPrompt = "you are the analyst"
	synthPrompt  = "merge the opinions"
	fastPrompt   = "answer quickly"
)

type testBot struct {
	bot       *Bot
	messenger *fakeMessenger
	completer *fakeCompleter
	files     *fakeFiles
	store     *history.Store
}

func newTestBot(t *testing.T, fn func(req gemini.Request) (*gemini.Result, error)) *testBot {
	t.Helper()

	fm := &fakeMessenger{downloads: map[string][]byte{}}
	fc := &fakeCompleter{fn: fn}
	ff := &fakeFiles{}

	store, err := history.Open(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	pool, err := keypool.New([]string{"key-a", "key-b"})
	if err != nil {
		t.Fatalf("keypool.New: %v", err)
	}

	logger := slog.New(slog.DiscardHandler)
	experts := []committee.ExpertDefinition{
		{ID: "analyst", Name: "Analyst", SystemPrompt: expertPrompt,
			Modes: []committee.Mode{committee.ModeReasoning, committee.ModeAgent}},
	}
	params := map[committee.Mode]committee.ModeParams{
		committee.ModeFast:      {Model: "fast-model"},
		committee.ModeReasoning: {Model: "reason-model"},
		committee.ModeAgent:     {Model: "agent-model"},
	}
	synth := map[committee.Mode]string{
		committee.ModeReasoning: synthPrompt,
		committee.ModeAgent:     synthPrompt,
	}
	bridge := committee.NewBridge(fc, nil, logger)
	orch := committee.NewOrchestrator(fc, bridge, experts, synth, params, committee.WithLogger(logger))

	b := New(Deps{
		Messenger:    fm,
		Store:        store,
		Completer:    fc,
		Orchestrator: orch,
		Files:        ff,
		Pool:         pool,
		Modes:        params,
		FastPrompt:   fastPrompt,
		ChunkLimit:   4096,
		Logger:       logger,
	})

	return &testBot{bot: b, messenger: fm, completer: fc, files: ff, store: store}
}

func textAnswer(text string) func(gemini.Request) (*gemini.Result, error) {
	return func(gemini.Request) (*gemini.Result, error) {
		return &gemini.Result{Text: text, Chunks: []string{text}, FinishReason: gemini.FinishStop}, nil
	}
}

func userMsg(text string) messenger.Message {
	return messenger.Message{ID: "m-1", From: "U1", Chat: "C1", Content: text}
}

func TestHandle_FastModeAnswersAndPersists(t *testing.T) {
	tb := newTestBot(t, textAnswer("the answer"))

	tb.bot.Handle(userMsg("what is up?"))

	if len(tb.messenger.sends) != 1 || tb.messenger.sends[0].Text != textThinking {
		t.Fatalf("sends = %+v, want one thinking status", tb.messenger.sends)
	}
	up := tb.messenger.lastUpdate(t)
	if up.Text != "the answer" || up.ID != tb.messenger.sends[0].ID {
		t.Errorf("update = %+v, want answer replacing the status message", up)
	}

	reqs := tb.completer.recorded()
	if len(reqs) != 1 {
		t.Fatalf("completions = %d, want 1", len(reqs))
	}
	if reqs[0].Model != "fast-model" || reqs[0].SystemPrompt != fastPrompt {
		t.Errorf("request = model %q prompt %q, want fast-model/fast prompt", reqs[0].Model, reqs[0].SystemPrompt)
	}
	if len(reqs[0].Tools) != 0 {
		t.Error("fast mode must not offer tools")
	}

	turns, err := tb.store.History(context.Background(), "U1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 2 || turns[0].Content != "what is up?" || turns[1].Content != "the answer" {
		t.Errorf("history = %+v, want question and answer", turns)
	}
}

func TestHandle_HistoryFedBackToModel(t *testing.T) {
	tb := newTestBot(t, textAnswer("second answer"))
	ctx := context.Background()
	if err := tb.store.Append(ctx, "U1", gemini.RoleUser, "earlier question"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := tb.store.Append(ctx, "U1", gemini.RoleModel, "earlier answer"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	tb.bot.Handle(userMsg("followup"))

	reqs := tb.completer.recorded()
	if len(reqs) != 1 {
		t.Fatalf("completions = %d, want 1", len(reqs))
	}
	if len(reqs[0].History) != 2 {
		t.Fatalf("history len = %d, want 2", len(reqs[0].History))
	}
	if reqs[0].History[0].Parts[0].Text != "earlier question" {
		t.Errorf("history[0] = %+v", reqs[0].History[0])
	}
}

func TestHandle_CommitteeModeSynthesizedAnswer(t *testing.T) {
	tb := newTestBot(t, func(req gemini.Request) (*gemini.Result, error) {
		switch req.SystemPrompt {
		case expertPrompt:
			return &gemini.Result{Text: "expert view", FinishReason: gemini.FinishStop}, nil
		case synthPrompt:
			return &gemini.Result{Text: "merged answer", FinishReason: gemini.FinishStop}, nil
		}
		return nil, fmt.Errorf("unexpected prompt %q", req.SystemPrompt)
	})
	ctx := context.Background()
	if err := tb.store.SetMode(ctx, "U1", string(committee.ModeReasoning)); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	tb.bot.Handle(userMsg("hard question"))

	up := tb.messenger.lastUpdate(t)
	if up.Text != "merged answer" {
		t.Errorf("final text = %q, want merged answer", up.Text)
	}

	turns, err := tb.store.History(ctx, "U1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 2 || turns[1].Content != "merged answer" {
		t.Errorf("history = %+v, want persisted synthesis", turns)
	}
}

func TestHandle_NoOpinionsNotice(t *testing.T) {
	tb := newTestBot(t, func(req gemini.Request) (*gemini.Result, error) {
		return &gemini.Result{FinishReason: gemini.FinishEmpty}, nil
	})
	ctx := context.Background()
	if err := tb.store.SetMode(ctx, "U1", string(committee.ModeReasoning)); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	tb.bot.Handle(userMsg("anything"))

	if got := tb.messenger.lastUpdate(t).Text; got != textNoOpinions {
		t.Errorf("final text = %q, want no-opinions notice", got)
	}
	turns, _ := tb.store.History(ctx, "U1")
	if len(turns) != 0 {
		t.Errorf("history = %+v, notices must not be persisted", turns)
	}
}

func TestHandle_CredentialExhaustionNotice(t *testing.T) {
	tb := newTestBot(t, func(gemini.Request) (*gemini.Result, error) {
		return nil, fmt.Errorf("rotation exhausted: %w", keypool.ErrNoCredentials)
	})

	tb.bot.Handle(userMsg("question"))

	if got := tb.messenger.lastUpdate(t).Text; got != textBusy {
		t.Errorf("final text = %q, want busy notice", got)
	}
}

func TestHandle_SafetyBlockNotice(t *testing.T) {
	tb := newTestBot(t, func(gemini.Request) (*gemini.Result, error) {
		return &gemini.Result{FinishReason: gemini.FinishSafety}, nil
	})

	tb.bot.Handle(userMsg("question"))

	if got := tb.messenger.lastUpdate(t).Text; got != textBlocked {
		t.Errorf("final text = %q, want blocked notice", got)
	}
	turns, _ := tb.store.History(context.Background(), "U1")
	if len(turns) != 0 {
		t.Errorf("history = %+v, blocked runs must not be persisted", turns)
	}
}

func TestHandle_CodeFencesStrippedBeforePersisting(t *testing.T) {
	tb := newTestBot(t, textAnswer("```go\nfmt.Println(1)\n```"))

	tb.bot.Handle(userMsg("show code"))

	if got := tb.messenger.lastUpdate(t).Text; got != "fmt.Println(1)" {
		t.Errorf("delivered = %q, want fences stripped", got)
	}
}

func TestHandle_LongAnswerChunked(t *testing.T) {
	long := strings.Repeat("x", 5000) + "\n" + strings.Repeat("y", 2000)
	tb := newTestBot(t, textAnswer(long))

	tb.bot.Handle(userMsg("long one"))

	// First chunk replaces the status message, overflow arrives as new sends.
	if len(tb.messenger.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(tb.messenger.updates))
	}
	extra := tb.messenger.sends[1:]
	if len(extra) == 0 {
		t.Fatal("no overflow chunks sent")
	}
	total := len(tb.messenger.updates[0].Text)
	for _, s := range extra {
		if len(s.Text) > 4096 {
			t.Errorf("chunk of %d bytes exceeds limit", len(s.Text))
		}
		total += len(s.Text)
	}
	if total < len(long)-len(extra) || total > len(long) {
		t.Errorf("total delivered = %d, want roughly %d", total, len(long))
	}
}

func TestHandle_ModeCommands(t *testing.T) {
	tb := newTestBot(t, textAnswer("unused"))
	ctx := context.Background()

	tb.bot.Handle(userMsg("/mode reasoning"))
	mode, err := tb.store.Mode(ctx, "U1")
	if err != nil {
		t.Fatalf("Mode: %v", err)
	}
	if mode != "reasoning" {
		t.Errorf("mode = %q, want reasoning", mode)
	}
	if got := tb.messenger.sends[len(tb.messenger.sends)-1].Text; got != fmt.Sprintf(textModeSet, "reasoning") {
		t.Errorf("reply = %q", got)
	}

	tb.bot.Handle(userMsg("/mode turbo"))
	if got := tb.messenger.sends[len(tb.messenger.sends)-1].Text; got != fmt.Sprintf(textModeUnknown, "turbo") {
		t.Errorf("reply = %q, want unknown-mode notice", got)
	}

	tb.bot.Handle(userMsg("/mode"))
	if got := tb.messenger.sends[len(tb.messenger.sends)-1].Text; got != fmt.Sprintf(textModeCurrent, "reasoning") {
		t.Errorf("reply = %q, want current-mode notice", got)
	}
}

func TestHandle_ClearCommand(t *testing.T) {
	tb := newTestBot(t, textAnswer("unused"))
	ctx := context.Background()
	if err := tb.store.Append(ctx, "U1", gemini.RoleUser, "old"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	tb.bot.Handle(userMsg("/clear"))

	turns, _ := tb.store.History(ctx, "U1")
	if len(turns) != 0 {
		t.Errorf("history = %+v, want empty", turns)
	}
	if got := tb.messenger.sends[len(tb.messenger.sends)-1].Text; got != textHistoryCleared {
		t.Errorf("reply = %q", got)
	}
}

func TestHandle_HelpCommand(t *testing.T) {
	tb := newTestBot(t, textAnswer("unused"))

	tb.bot.Handle(userMsg("/help"))

	if got := tb.messenger.sends[len(tb.messenger.sends)-1].Text; got != textHelp {
		t.Errorf("reply = %q, want help text", got)
	}
}

func TestHandle_AttachmentUploadAndSupersession(t *testing.T) {
	tb := newTestBot(t, textAnswer("unused"))
	tb.messenger.downloads["https://dl/one"] = []byte("first file")
	tb.messenger.downloads["https://dl/two"] = []byte("second file")

	first := userMsg("")
	first.Files = []messenger.FileRef{{Name: "one.pdf", MIMEType: "application/pdf", URL: "https://dl/one"}}
	tb.bot.Handle(first)

	if len(tb.files.uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(tb.files.uploads))
	}
	up := tb.files.uploads[0]
	if up.Key != "key-a" {
		t.Errorf("upload used key %q, want peeked key-a", up.Key)
	}
	if string(up.Data) != "first file" || up.MIMEType != "application/pdf" {
		t.Errorf("upload = %+v", up)
	}
	if got := tb.messenger.sends[len(tb.messenger.sends)-1].Text; got != textFileStored {
		t.Errorf("reply = %q, want stored notice", got)
	}

	second := userMsg("")
	second.Files = []messenger.FileRef{{Name: "two.pdf", MIMEType: "application/pdf", URL: "https://dl/two"}}
	tb.bot.Handle(second)

	if len(tb.files.deletes) != 1 || tb.files.deletes[0] != "files/f1" {
		t.Errorf("deletes = %v, want the superseded files/f1", tb.files.deletes)
	}

	att, err := tb.store.Attachment(context.Background(), "U1")
	if err != nil {
		t.Fatalf("Attachment: %v", err)
	}
	if att == nil || att.Name != "files/f2" {
		t.Errorf("attachment = %+v, want files/f2", att)
	}
}

func TestHandle_AttachmentIncludedInQuestion(t *testing.T) {
	tb := newTestBot(t, textAnswer("described"))
	ctx := context.Background()
	err := tb.store.SetAttachment(ctx, "U1", &history.Attachment{
		Name: "files/doc", URI: "https://files.example/doc", MIMEType: "application/pdf",
	})
	if err != nil {
		t.Fatalf("SetAttachment: %v", err)
	}

	tb.bot.Handle(userMsg("summarize the file"))

	reqs := tb.completer.recorded()
	if len(reqs) != 1 {
		t.Fatalf("completions = %d, want 1", len(reqs))
	}
	parts := reqs[0].UserParts
	if len(parts) != 2 || parts[1].FileData == nil {
		t.Fatalf("user parts = %+v, want text plus file", parts)
	}
	if parts[1].FileData.FileURI != "https://files.example/doc" {
		t.Errorf("file URI = %q", parts[1].FileData.FileURI)
	}
}

func TestHandle_EmptyMessageIgnored(t *testing.T) {
	tb := newTestBot(t, textAnswer("unused"))

	tb.bot.Handle(userMsg("   "))

	if len(tb.messenger.sends) != 0 || len(tb.completer.recorded()) != 0 {
		t.Error("blank message must be ignored")
	}
}
