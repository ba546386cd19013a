package messenger

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// SlackAdapter implements Messenger using Slack's Socket Mode.
type SlackAdapter struct {
	botToken  string
	appToken  string
	channelID string

	api    *slack.Client
	sm     *socketmode.Client
	botUID string // resolved on connect

	connState ConnectionState
	connMu    sync.RWMutex

	msgHandler  MessageHandler
	connHandler ConnectionHandler
}

// NewSlack creates a Slack messenger. Call Connect() to start Socket Mode.
// channelID is optional; when set, messages from other channels are ignored.
func NewSlack(botToken, appToken, channelID string) *SlackAdapter {
	return &SlackAdapter{
		botToken:  botToken,
		appToken:  appToken,
		channelID: channelID,
		connState: StateDisconnected,
	}
}

func (s *SlackAdapter) Connect() error {
	s.api = slack.New(
		s.botToken,
		slack.OptionAppLevelToken(s.appToken),
	)

	// Resolve bot's own user ID
	authResp, err := s.api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	s.botUID = authResp.UserID

	s.sm = socketmode.New(
		s.api,
		socketmode.OptionLog(log.New(os.Stderr, "slack-sm: ", log.Lshortfile|log.LstdFlags)),
	)

	s.setState(StateConnecting)

	// Run event processing loop
	go s.runSocketMode()

	// Run Socket Mode connection (blocking in goroutine)
	go func() {
		if err := s.sm.Run(); err != nil {
			s.setState(StateDisconnected)
		}
	}()

	return nil
}

func (s *SlackAdapter) runSocketMode() {
	for evt := range s.sm.Events {
		switch evt.Type {
		case socketmode.EventTypeConnecting:
			s.setState(StateConnecting)

		case socketmode.EventTypeConnected:
			s.setState(StateConnected)

		case socketmode.EventTypeDisconnect:
			s.setState(StateReconnecting)

		case socketmode.EventTypeEventsAPI:
			eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			s.sm.Ack(*evt.Request)
			s.handleEventsAPI(eventsAPIEvent)
		}
	}
}

func (s *SlackAdapter) handleEventsAPI(event slackevents.EventsAPIEvent) {
	switch event.Type {
	case slackevents.CallbackEvent:
		innerEvent := event.InnerEvent
		switch ev := innerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			// Ignore bot's own messages
			if ev.User == s.botUID || ev.BotID != "" {
				return
			}
			// Filter by channel
			if s.channelID != "" && ev.Channel != s.channelID {
				return
			}
			// Only process new messages; ignore edits, deletes
			// and join notices, but keep file shares.
			if ev.SubType != "" && ev.SubType != "file_share" {
				return
			}

			if s.msgHandler != nil {
				msg := Message{
					ID:       ev.TimeStamp,
					From:     ev.User,
					Chat:     ev.Channel,
					Content:  ev.Text,
					Files:    fileRefs(ev),
					RawEvent: ev,
				}
				s.msgHandler(msg)
			}
		}
	}
}

func fileRefs(ev *slackevents.MessageEvent) []FileRef {
	var refs []FileRef
	if ev.Message == nil {
		return nil
	}
	for _, f := range ev.Message.Files {
		refs = append(refs, FileRef{
			Name:     f.Name,
			MIMEType: f.Mimetype,
			URL:      f.URLPrivateDownload,
			Size:     f.Size,
		})
	}
	return refs
}

func (s *SlackAdapter) Disconnect() {
	// socketmode.Client stops when its context is cancelled; just
	// update state here.
	s.setState(StateDisconnected)
}

func (s *SlackAdapter) GetState() ConnectionState {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.connState
}

func (s *SlackAdapter) OnMessage(handler MessageHandler) {
	s.msgHandler = handler
}

func (s *SlackAdapter) OnConnectionEvent(handler ConnectionHandler) {
	s.connHandler = handler
}

func (s *SlackAdapter) Send(chatID, text string) (string, error) {
	if s.api == nil {
		return "", fmt.Errorf("not connected")
	}
	_, ts, err := s.api.PostMessage(chatID, slack.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("slack send: %w", err)
	}
	return ts, nil
}

func (s *SlackAdapter) Update(chatID, messageID, text string) error {
	if s.api == nil {
		return fmt.Errorf("not connected")
	}
	_, _, _, err := s.api.UpdateMessage(chatID, messageID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack update: %w", err)
	}
	return nil
}

func (s *SlackAdapter) Delete(chatID, messageID string) error {
	if s.api == nil {
		return fmt.Errorf("not connected")
	}
	if _, _, err := s.api.DeleteMessage(chatID, messageID); err != nil {
		return fmt.Errorf("slack delete: %w", err)
	}
	return nil
}

// DownloadFile fetches a private Slack file using the bot token.
func (s *SlackAdapter) DownloadFile(ref FileRef) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, ref.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build file request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.botToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *SlackAdapter) Name() string {
	return "Slack"
}

func (s *SlackAdapter) setState(state ConnectionState) {
	s.connMu.Lock()
	old := s.connState
	s.connState = state
	handler := s.connHandler
	s.connMu.Unlock()

	if old != state && handler != nil {
		handler(state)
	}
}
