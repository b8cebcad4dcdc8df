package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/fieldgate/fieldgate/internal/flow"
	"github.com/fieldgate/fieldgate/internal/intent"
	"github.com/fieldgate/fieldgate/internal/portal"
	"github.com/fieldgate/fieldgate/internal/store"
	"github.com/fieldgate/fieldgate/pkg/models"
)

type mockClient struct {
	mu       sync.Mutex
	photoErr error
	messages []*bot.SendMessageParams
	photos   []*bot.SendPhotoParams
	captions []*bot.EditMessageCaptionParams
	answers  []*bot.AnswerCallbackQueryParams
}

func (m *mockClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, params)
	return &tgmodels.Message{ID: 10 + len(m.messages)}, nil
}

func (m *mockClient) SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*tgmodels.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos = append(m.photos, params)
	if m.photoErr != nil {
		return nil, m.photoErr
	}
	return &tgmodels.Message{ID: 500}, nil
}

func (m *mockClient) EditMessageCaption(ctx context.Context, params *bot.EditMessageCaptionParams) (*tgmodels.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captions = append(m.captions, params)
	return &tgmodels.Message{}, nil
}

func (m *mockClient) AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, params)
	return true, nil
}

func (m *mockClient) RegisterHandler(bot.HandlerType, string, bot.MatchType, bot.HandlerFunc) {}

func (m *mockClient) Start(ctx context.Context) {}

func (m *mockClient) lastMessage(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		t.Fatal("no messages sent")
	}
	return m.messages[len(m.messages)-1].Text
}

type fixedExtractor struct {
	result *intent.Result
	err    error
}

func (f *fixedExtractor) Extract(ctx context.Context, message string) (*intent.Result, error) {
	return f.result, f.err
}

type fakeSession struct{ disposed bool }

func (f *fakeSession) Commit(ctx context.Context) error { return nil }
func (f *fakeSession) Dispose()                         { f.disposed = true }

type fakeFlow struct {
	request    *models.ChangeRequest
	prepared   *portal.Prepared
	prepareErr error
	outcome    *flow.Outcome
	confirmErr error
	rejectErr  error
	latestErr  error

	confirmed  []string
	rejected   []string
	activated  []string
	aborted    []string
	abortCause error
	previewRef int
}

func (f *fakeFlow) Begin(ctx context.Context, requesterID, channelID, value int64) (*models.ChangeRequest, error) {
	f.request = &models.ChangeRequest{
		ID:             "req-1",
		RequesterID:    requesterID,
		ChannelID:      channelID,
		RequestedValue: value,
		State:          models.StatePending,
	}
	return f.request, nil
}

func (f *fakeFlow) Prepare(ctx context.Context, requestID string) (*portal.Prepared, error) {
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	return f.prepared, nil
}

func (f *fakeFlow) AbortPreparation(ctx context.Context, requestID string, cause error) error {
	f.aborted = append(f.aborted, requestID)
	f.abortCause = cause
	return nil
}

func (f *fakeFlow) Activate(ctx context.Context, requestID string, prepared *portal.Prepared, previewRef int) error {
	f.activated = append(f.activated, requestID)
	f.previewRef = previewRef
	return nil
}

func (f *fakeFlow) Confirm(ctx context.Context, requestID string) (*flow.Outcome, error) {
	f.confirmed = append(f.confirmed, requestID)
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return f.outcome, nil
}

func (f *fakeFlow) Reject(ctx context.Context, requestID string) (*flow.Outcome, error) {
	f.rejected = append(f.rejected, requestID)
	if f.rejectErr != nil {
		return nil, f.rejectErr
	}
	return f.outcome, nil
}

func (f *fakeFlow) Latest(ctx context.Context, requesterID int64) (*models.ChangeRequest, error) {
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	return f.request, f.latestErr
}

func newTestDispatcher(t *testing.T, client *mockClient, extractor intent.Extractor, fl Flow) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(Config{Token: "test-token"}, client, extractor, fl)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return d
}

func textUpdate(text string) *tgmodels.Update {
	return &tgmodels.Update{
		Message: &tgmodels.Message{
			ID:   1,
			Text: text,
			Chat: tgmodels.Chat{ID: 100},
			From: &tgmodels.User{ID: 42},
		},
	}
}

func callbackUpdate(data string) *tgmodels.Update {
	return &tgmodels.Update{
		CallbackQuery: &tgmodels.CallbackQuery{ID: "query-1", Data: data},
	}
}

func TestHandleTextHappyPath(t *testing.T) {
	previous := int64(5000)
	value := int64(8000)
	client := &mockClient{}
	fl := &fakeFlow{prepared: &portal.Prepared{
		PreviousValue: &previous,
		Screenshot:    []byte("png"),
		Session:       &fakeSession{},
	}}
	d := newTestDispatcher(t, client, &fixedExtractor{result: &intent.Result{Intent: intent.IntentUpdateIncome, Value: &value}}, fl)

	d.handleText(context.Background(), nil, textUpdate("set my income to 8000"))

	if len(client.photos) != 1 {
		t.Fatalf("photos = %d, want 1", len(client.photos))
	}
	photo := client.photos[0]
	if !strings.Contains(photo.Caption, "RM 5000") || !strings.Contains(photo.Caption, "RM 8000") {
		t.Fatalf("caption = %q", photo.Caption)
	}
	markup, ok := photo.ReplyMarkup.(*tgmodels.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("reply markup type %T", photo.ReplyMarkup)
	}
	buttons := markup.InlineKeyboard[0]
	if buttons[0].CallbackData != "confirm:req-1" || buttons[1].CallbackData != "cancel:req-1" {
		t.Fatalf("buttons = %+v", buttons)
	}

	if len(fl.activated) != 1 || fl.activated[0] != "req-1" {
		t.Fatalf("activated = %v", fl.activated)
	}
	if fl.previewRef != 500 {
		t.Fatalf("preview ref = %d, want sent message id", fl.previewRef)
	}
}

func TestHandleTextNotActionable(t *testing.T) {
	client := &mockClient{}
	fl := &fakeFlow{}
	d := newTestDispatcher(t, client, &fixedExtractor{result: &intent.Result{Intent: intent.IntentUnknown}}, fl)

	d.handleText(context.Background(), nil, textUpdate("hello"))

	if !strings.Contains(client.lastMessage(t), "couldn't extract an income value") {
		t.Fatalf("last message = %q", client.lastMessage(t))
	}
	if fl.request != nil {
		t.Fatal("no request should be created")
	}
	if len(client.photos) != 0 {
		t.Fatal("no preview should be sent")
	}
}

func TestHandleTextNoActiveSession(t *testing.T) {
	value := int64(8000)
	client := &mockClient{}
	fl := &fakeFlow{prepareErr: portal.ErrNoActiveSession}
	d := newTestDispatcher(t, client, &fixedExtractor{result: &intent.Result{Intent: intent.IntentUpdateIncome, Value: &value}}, fl)

	d.handleText(context.Background(), nil, textUpdate("set my income to 8000"))

	if !strings.Contains(client.lastMessage(t), "No active idMe session") {
		t.Fatalf("last message = %q", client.lastMessage(t))
	}
}

func TestHandleTextPrepareFailure(t *testing.T) {
	value := int64(8000)
	client := &mockClient{}
	fl := &fakeFlow{prepareErr: errors.New("dashboard unreachable")}
	d := newTestDispatcher(t, client, &fixedExtractor{result: &intent.Result{Intent: intent.IntentUpdateIncome, Value: &value}}, fl)

	d.handleText(context.Background(), nil, textUpdate("set my income to 8000"))

	if !strings.Contains(client.lastMessage(t), "❌ Failed: dashboard unreachable") {
		t.Fatalf("last message = %q", client.lastMessage(t))
	}
}

func TestHandleTextPreviewDeliveryFailure(t *testing.T) {
	previous := int64(5000)
	value := int64(8000)
	session := &fakeSession{}
	client := &mockClient{photoErr: errors.New("telegram: file too large")}
	fl := &fakeFlow{prepared: &portal.Prepared{
		PreviousValue: &previous,
		Screenshot:    []byte("png"),
		Session:       session,
	}}
	d := newTestDispatcher(t, client, &fixedExtractor{result: &intent.Result{Intent: intent.IntentUpdateIncome, Value: &value}}, fl)

	d.handleText(context.Background(), nil, textUpdate("set my income to 8000"))

	if !session.disposed {
		t.Fatal("staged session must be disposed")
	}
	if len(fl.aborted) != 1 || fl.aborted[0] != "req-1" {
		t.Fatalf("aborted = %v", fl.aborted)
	}
	if fl.abortCause == nil || !strings.Contains(fl.abortCause.Error(), "failed to deliver preview") {
		t.Fatalf("abort cause = %v", fl.abortCause)
	}
	if len(fl.activated) != 0 {
		t.Fatalf("activated = %v, want none", fl.activated)
	}
	if !strings.Contains(client.lastMessage(t), "❌ Failed: failed to deliver preview") {
		t.Fatalf("last message = %q", client.lastMessage(t))
	}
}

func TestHandleTextIgnoresCommands(t *testing.T) {
	client := &mockClient{}
	d := newTestDispatcher(t, client, &fixedExtractor{}, &fakeFlow{})

	d.handleText(context.Background(), nil, textUpdate("/start"))

	if len(client.messages) != 0 {
		t.Fatalf("messages = %d, want 0", len(client.messages))
	}
}

func TestHandleCallbackConfirmSuccess(t *testing.T) {
	previous := int64(5000)
	client := &mockClient{}
	fl := &fakeFlow{outcome: &flow.Outcome{Request: &models.ChangeRequest{
		ID:             "req-1",
		ChannelID:      100,
		PreviewRef:     500,
		RequestedValue: 8000,
		PreviousValue:  &previous,
		State:          models.StateSucceeded,
	}}}
	d := newTestDispatcher(t, client, &fixedExtractor{}, fl)

	d.handleCallback(context.Background(), nil, callbackUpdate("confirm:req-1"))

	if len(fl.confirmed) != 1 || fl.confirmed[0] != "req-1" {
		t.Fatalf("confirmed = %v", fl.confirmed)
	}
	if len(client.answers) != 1 || client.answers[0].Text != "Confirming…" {
		t.Fatalf("answers = %+v", client.answers)
	}
	if len(client.captions) != 1 {
		t.Fatalf("captions = %d, want 1", len(client.captions))
	}
	caption := client.captions[0]
	if caption.MessageID != 500 {
		t.Fatalf("caption message id = %d", caption.MessageID)
	}
	if !strings.Contains(caption.Caption, "Update successful") ||
		!strings.Contains(caption.Caption, "RM 5000 → RM 8000") {
		t.Fatalf("caption = %q", caption.Caption)
	}
}

func TestHandleCallbackConfirmSessionExpired(t *testing.T) {
	client := &mockClient{}
	fl := &fakeFlow{outcome: &flow.Outcome{Request: &models.ChangeRequest{
		ID:            "req-1",
		ChannelID:     100,
		PreviewRef:    500,
		State:         models.StateFailed,
		FailureReason: "session expired",
	}}}
	d := newTestDispatcher(t, client, &fixedExtractor{}, fl)

	d.handleCallback(context.Background(), nil, callbackUpdate("confirm:req-1"))

	if len(client.captions) != 1 || !strings.Contains(client.captions[0].Caption, "session expired") {
		t.Fatalf("captions = %+v", client.captions)
	}
}

func TestHandleCallbackCancel(t *testing.T) {
	client := &mockClient{}
	fl := &fakeFlow{outcome: &flow.Outcome{Request: &models.ChangeRequest{
		ID:         "req-1",
		ChannelID:  100,
		PreviewRef: 500,
		State:      models.StateRejected,
	}}}
	d := newTestDispatcher(t, client, &fixedExtractor{}, fl)

	d.handleCallback(context.Background(), nil, callbackUpdate("cancel:req-1"))

	if len(fl.rejected) != 1 {
		t.Fatalf("rejected = %v", fl.rejected)
	}
	if len(client.answers) != 1 || client.answers[0].Text != "Cancelled." {
		t.Fatalf("answers = %+v", client.answers)
	}
	if len(client.captions) != 1 || !strings.Contains(client.captions[0].Caption, "cancelled by user") {
		t.Fatalf("captions = %+v", client.captions)
	}
}

func TestHandleCallbackAlreadyResolved(t *testing.T) {
	client := &mockClient{}
	fl := &fakeFlow{outcome: &flow.Outcome{
		Request:         &models.ChangeRequest{ID: "req-1", State: models.StateSucceeded},
		AlreadyResolved: true,
	}}
	d := newTestDispatcher(t, client, &fixedExtractor{}, fl)

	d.handleCallback(context.Background(), nil, callbackUpdate("confirm:req-1"))

	if len(client.captions) != 0 {
		t.Fatalf("captions = %d, want 0 for resolved request", len(client.captions))
	}
	if len(client.answers) != 1 || client.answers[0].Text != "Already handled." {
		t.Fatalf("answers = %+v", client.answers)
	}
}

func TestHandleCallbackUnknownRequest(t *testing.T) {
	client := &mockClient{}
	fl := &fakeFlow{confirmErr: store.ErrNotFound, rejectErr: store.ErrNotFound}
	d := newTestDispatcher(t, client, &fixedExtractor{}, fl)

	d.handleCallback(context.Background(), nil, callbackUpdate("confirm:ghost"))
	d.handleCallback(context.Background(), nil, callbackUpdate("cancel:ghost"))

	if len(client.answers) != 2 {
		t.Fatalf("answers = %d, want 2", len(client.answers))
	}
	for _, answer := range client.answers {
		if answer.Text != "Record not found." {
			t.Fatalf("answer = %q", answer.Text)
		}
	}
	if len(client.captions) != 0 {
		t.Fatalf("captions = %d, want 0", len(client.captions))
	}
}

func TestHandleCallbackMalformed(t *testing.T) {
	client := &mockClient{}
	fl := &fakeFlow{}
	d := newTestDispatcher(t, client, &fixedExtractor{}, fl)

	for _, data := range []string{"", "confirm", "confirm:", "promote:req-1", "nonsense"} {
		d.handleCallback(context.Background(), nil, callbackUpdate(data))
	}

	if len(fl.confirmed)+len(fl.rejected) != 0 {
		t.Fatal("malformed payloads must not reach the flow")
	}
	if len(client.answers) != 5 {
		t.Fatalf("answers = %d, want one per payload", len(client.answers))
	}
}

func TestHandleStatus(t *testing.T) {
	client := &mockClient{}
	fl := &fakeFlow{}
	ctx := context.Background()
	if _, err := fl.Begin(ctx, 42, 100, 8000); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	fl.request.State = models.StateSucceeded
	d := newTestDispatcher(t, client, &fixedExtractor{}, fl)

	d.handleStatus(ctx, nil, textUpdate("/status"))

	got := client.lastMessage(t)
	if !strings.Contains(got, "RM 8000") || !strings.Contains(got, string(models.StateSucceeded)) {
		t.Fatalf("status message = %q", got)
	}
}

func TestHandleStatusEmpty(t *testing.T) {
	client := &mockClient{}
	fl := &fakeFlow{latestErr: store.ErrNotFound}
	d := newTestDispatcher(t, client, &fixedExtractor{}, fl)

	d.handleStatus(context.Background(), nil, textUpdate("/status"))

	if client.lastMessage(t) != "No updates found." {
		t.Fatalf("status message = %q", client.lastMessage(t))
	}
}

func TestNotifyExpired(t *testing.T) {
	client := &mockClient{}
	d := newTestDispatcher(t, client, &fixedExtractor{}, &fakeFlow{})

	d.NotifyExpired(context.Background(), &models.ChangeRequest{
		ID:         "req-1",
		ChannelID:  100,
		PreviewRef: 500,
		State:      models.StateExpired,
	})

	if len(client.captions) != 1 || !strings.Contains(client.captions[0].Caption, "timed out") {
		t.Fatalf("captions = %+v", client.captions)
	}
}

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data   string
		action string
		id     string
		ok     bool
	}{
		{"confirm:abc", "confirm", "abc", true},
		{"cancel:abc", "cancel", "abc", true},
		{"confirm:a:b", "confirm", "a:b", true},
		{"confirm:", "", "", false},
		{"other:abc", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		action, id, ok := parseCallback(tt.data)
		if action != tt.action || id != tt.id || ok != tt.ok {
			t.Errorf("parseCallback(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.data, action, id, ok, tt.action, tt.id, tt.ok)
		}
	}
}
