package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aspect-cloud/asearch/internal/committee"
	"github.com/aspect-cloud/asearch/internal/history"
	"github.com/aspect-cloud/asearch/internal/keypool"
	"github.com/aspect-cloud/asearch/internal/messenger"
	"github.com/aspect-cloud/asearch/internal/provider/gemini"
)

// requestTimeout bounds one full answer flow, committee runs included.
const requestTimeout = 5 * time.Minute

// FileStore is the subset of the completion client used for attachment
// management.
type FileStore interface {
	UploadFile(ctx context.Context, apiKey string, r io.Reader, mimeType, displayName string) (*gemini.File, error)
	DeleteFile(ctx context.Context, apiKey, name string) error
}

// Deps wires the bot's collaborators.
type Deps struct {
	Messenger    messenger.Messenger
	Store        *history.Store
	Completer    committee.Completer
	Orchestrator *committee.Orchestrator
	Files        FileStore
	Pool         *keypool.Pool
	Modes        map[committee.Mode]committee.ModeParams
	FastPrompt   string
	ChunkLimit   int
	Logger       *slog.Logger
}

// Bot handles incoming messages end to end.
type Bot struct {
	messenger    messenger.Messenger
	store        *history.Store
	completer    committee.Completer
	orchestrator *committee.Orchestrator
	files        FileStore
	pool         *keypool.Pool
	modes        map[committee.Mode]committee.ModeParams
	fastPrompt   string
	chunkLimit   int
	logger       *slog.Logger
}

// New builds a Bot from its dependencies.
func New(d Deps) *Bot {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.ChunkLimit <= 0 {
		d.ChunkLimit = gemini.DefaultChunkLimit
	}
	return &Bot{
		messenger:    d.Messenger,
		store:        d.Store,
		completer:    d.Completer,
		orchestrator: d.Orchestrator,
		files:        d.Files,
		pool:         d.Pool,
		modes:        d.Modes,
		fastPrompt:   d.FastPrompt,
		chunkLimit:   d.ChunkLimit,
		logger:       d.Logger,
	}
}

// Start registers the message handler and connects the messenger.
func (b *Bot) Start() error {
	b.messenger.OnMessage(func(msg messenger.Message) {
		go b.Handle(msg)
	})
	return b.messenger.Connect()
}

// Stop disconnects the messenger.
func (b *Bot) Stop() {
	b.messenger.Disconnect()
}

// Handle processes one incoming message: attachments first, then
// commands, then the question flow.
func (b *Bot) Handle(msg messenger.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	text := strings.TrimSpace(msg.Content)

	if len(msg.Files) > 0 {
		b.storeAttachment(ctx, msg)
		if text == "" {
			return
		}
	}

	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, msg, text)
		return
	}
	if text == "" {
		return
	}

	b.answer(ctx, msg, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg messenger.Message, text string) {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/mode":
		if len(fields) < 2 {
			mode, err := b.store.Mode(ctx, msg.From)
			if err != nil {
				b.reply(msg.Chat, textError)
				return
			}
			b.reply(msg.Chat, fmt.Sprintf(textModeCurrent, mode))
			return
		}
		want := committee.Mode(strings.ToLower(fields[1]))
		if _, ok := b.modes[want]; !ok {
			b.reply(msg.Chat, fmt.Sprintf(textModeUnknown, fields[1]))
			return
		}
		if err := b.store.SetMode(ctx, msg.From, string(want)); err != nil {
			b.reply(msg.Chat, textError)
			return
		}
		b.reply(msg.Chat, fmt.Sprintf(textModeSet, want))

	case "/clear":
		if err := b.store.Clear(ctx, msg.From); err != nil {
			b.reply(msg.Chat, textError)
			return
		}
		b.reply(msg.Chat, textHistoryCleared)

	default:
		b.reply(msg.Chat, textHelp)
	}
}

func (b *Bot) answer(ctx context.Context, msg messenger.Message, question string) {
	log := b.logger.With("user", msg.From, "chat", msg.Chat)

	modeName, err := b.store.Mode(ctx, msg.From)
	if err != nil {
		log.Error("read mode failed", "error", err)
		b.reply(msg.Chat, textError)
		return
	}
	mode := committee.Mode(modeName)

	statusID, err := b.messenger.Send(msg.Chat, textThinking)
	if err != nil {
		log.Warn("status message failed", "error", err)
		statusID = ""
	}

	contents := b.loadHistory(ctx, log, msg.From)
	parts := b.buildUserParts(ctx, msg.From, question)

	var answerText string
	var queries []string
	var ok bool

	switch mode {
	case committee.ModeFast:
		mp := b.modes[committee.ModeFast]
		res, err := b.completer.Complete(ctx, gemini.Request{
			Model:        mp.Model,
			History:      contents,
			UserParts:    parts,
			SystemPrompt: b.fastPrompt,
			Generation:   mp.Generation,
		})
		answerText, ok = b.resultText(res, err, log)

	default:
		run, err := b.orchestrator.Run(ctx, mode, contents, parts, b.progress(msg.Chat, statusID))
		switch {
		case err != nil:
			answerText, ok = b.resultText(nil, err, log)
		case run.State == committee.StateNoOpinions:
			answerText, ok = textNoOpinions, false
		default:
			answerText, ok = b.resultText(run.Answer, nil, log)
			queries = run.Queries
		}
	}

	if ok {
		b.persistTurn(ctx, log, msg.From, question, answerText)
	}

	final := answerText
	if ok && len(queries) > 0 {
		final += "\n\n" + textQueriesUsed + "\n- " + strings.Join(queries, "\n- ")
	}

	b.deliver(log, msg.Chat, statusID, final)
}

// resultText maps a completion outcome to user-facing text. The second
// return value reports whether the text is a model answer worth
// persisting, as opposed to a fixed notice.
func (b *Bot) resultText(res *gemini.Result, err error, log *slog.Logger) (string, bool) {
	if err != nil {
		if errors.Is(err, keypool.ErrNoCredentials) {
			log.Warn("credentials exhausted")
			return textBusy, false
		}
		log.Error("completion failed", "error", err)
		return textError, false
	}
	switch res.FinishReason {
	case gemini.FinishSafety:
		return textBlocked, false
	case gemini.FinishEmpty:
		return textEmpty, false
	}
	if res.Text == "" {
		return textEmpty, false
	}
	return gemini.StripCodeFences(res.Text), true
}

func (b *Bot) loadHistory(ctx context.Context, log *slog.Logger, userID string) []gemini.Content {
	turns, err := b.store.History(ctx, userID)
	if err != nil {
		log.Warn("load history failed, answering without context", "error", err)
		return nil
	}
	contents := make([]gemini.Content, 0, len(turns))
	for _, t := range turns {
		contents = append(contents, gemini.Content{
			Role:  t.Role,
			Parts: []gemini.Part{gemini.TextPart(t.Content)},
		})
	}
	return contents
}

func (b *Bot) buildUserParts(ctx context.Context, userID, question string) []gemini.Part {
	parts := []gemini.Part{gemini.TextPart(question)}
	att, err := b.store.Attachment(ctx, userID)
	if err != nil || att == nil {
		return parts
	}
	return append(parts, gemini.Part{
		FileData: &gemini.FileData{FileURI: att.URI, MIMEType: att.MIMEType},
	})
}

func (b *Bot) persistTurn(ctx context.Context, log *slog.Logger, userID, question, answer string) {
	if err := b.store.Append(ctx, userID, gemini.RoleUser, question); err != nil {
		log.Warn("persist question failed", "error", err)
		return
	}
	if err := b.store.Append(ctx, userID, gemini.RoleModel, answer); err != nil {
		log.Warn("persist answer failed", "error", err)
	}
}

// deliver sends the final text, chunked at the transport limit. The
// first chunk replaces the status message when one exists.
func (b *Bot) deliver(log *slog.Logger, chatID, statusID, text string) {
	chunks := gemini.SplitMessage(text, b.chunkLimit)
	for i, chunk := range chunks {
		if i == 0 && statusID != "" {
			if err := b.messenger.Update(chatID, statusID, chunk); err == nil {
				continue
			}
			// Fall back to a fresh message when the edit fails.
		}
		if _, err := b.messenger.Send(chatID, chunk); err != nil {
			log.Error("send chunk failed", "chunk", i, "error", err)
			return
		}
	}
}

// progress returns a callback that rewrites the status message as the
// committee advances. Nil when there is no status message to edit.
func (b *Bot) progress(chatID, statusID string) committee.ProgressFunc {
	if statusID == "" {
		return nil
	}
	return func(p committee.Progress) {
		var text string
		switch p.Stage {
		case committee.StageExpert:
			text = fmt.Sprintf(textConsultingExpert, p.Expert, p.Total)
		case committee.StageSearching:
			text = fmt.Sprintf(textSearching, p.Expert)
		case committee.StageSynthesizing:
			text = textSynthesizing
		default:
			return
		}
		if err := b.messenger.Update(chatID, statusID, text); err != nil {
			b.logger.Debug("status update failed", "error", err)
		}
	}
}

// storeAttachment uploads the first attached file to the File API and
// records it as the user's current attachment, deleting the previous
// upload. The credential is peeked, not claimed: file operations ride
// on whichever key is next in rotation without advancing the cursor.
func (b *Bot) storeAttachment(ctx context.Context, msg messenger.Message) {
	log := b.logger.With("user", msg.From)
	ref := msg.Files[0]

	data, err := b.messenger.DownloadFile(ref)
	if err != nil {
		log.Error("attachment download failed", "file", ref.Name, "error", err)
		b.reply(msg.Chat, textFileFailed)
		return
	}

	apiKey, err := b.pool.Peek()
	if err != nil {
		log.Warn("no credential for upload", "error", err)
		b.reply(msg.Chat, textBusy)
		return
	}

	file, err := b.files.UploadFile(ctx, apiKey, bytes.NewReader(data), ref.MIMEType, ref.Name)
	if err != nil {
		log.Error("file upload failed", "file", ref.Name, "error", err)
		b.reply(msg.Chat, textFileFailed)
		return
	}

	if prev, err := b.store.Attachment(ctx, msg.From); err == nil && prev != nil {
		if err := b.files.DeleteFile(ctx, apiKey, prev.Name); err != nil {
			log.Warn("superseded file delete failed", "file", prev.Name, "error", err)
		}
	}

	if err := b.store.SetAttachment(ctx, msg.From, &history.Attachment{
		Name:     file.Name,
		URI:      file.URI,
		MIMEType: file.MIMEType,
	}); err != nil {
		log.Error("persist attachment failed", "error", err)
		b.reply(msg.Chat, textFileFailed)
		return
	}

	log.Info("attachment stored", "file", file.Name)
	b.reply(msg.Chat, textFileStored)
}

func (b *Bot) reply(chatID, text string) {
	if _, err := b.messenger.Send(chatID, text); err != nil {
		b.logger.Error("send failed", "error", err)
	}
}
