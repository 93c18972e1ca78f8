package bot

import (
	"bytes"
	"context"
	"errors"
	"image"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/anonymizer/internal/detector"
	"github.com/andresmejia3/anonymizer/internal/pipeline"
	"github.com/andresmejia3/anonymizer/internal/redact"
	"github.com/andresmejia3/anonymizer/internal/settings"
	"github.com/andresmejia3/anonymizer/internal/store"
	"github.com/andresmejia3/anonymizer/internal/types"
	"github.com/disintegration/imaging"
)

type fakeAPI struct {
	mu      sync.Mutex
	sent    []tgbotapi.Chattable
	sendErr error
	updates chan tgbotapi.Update
	stopped bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.sendErr
}

func (f *fakeAPI) GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error) {
	return tgbotapi.File{FileID: config.FileID, FilePath: "photos/" + config.FileID + ".jpg"}, nil
}

func (f *fakeAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() { f.stopped = true }

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeAPI) photos() []tgbotapi.PhotoConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.PhotoConfig
	for _, c := range f.sent {
		if p, ok := c.(tgbotapi.PhotoConfig); ok {
			out = append(out, p)
		}
	}
	return out
}

func command(chatID int64, text string) *tgbotapi.Message {
	name := strings.Fields(text)[0]
	return &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}
}

func photoMessage(chatID int64) *tgbotapi.Message {
	return &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: chatID},
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", Width: 90, Height: 90},
			{FileID: "large", Width: 800, Height: 800},
		},
	}
}

func jpegBytes(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 32)), imaging.JPEG))
	return buf.Bytes()
}

func newTestBot(t *testing.T, got *settings.Settings) (*Bot, *fakeAPI, store.Store) {
	t.Helper()
	ledger, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	factory := func(ctx context.Context, st settings.Settings) (*pipeline.Processor, error) {
		if got != nil {
			*got = st
		}
		d := detector.NewMockDetector()
		d.SetDetections([]types.Detection{{X: 0.1, Y: 0.1, Width: 0.3, Height: 0.3}, {X: 0.5, Y: 0.5, Width: 0.3, Height: 0.3}})
		return pipeline.NewProcessor(d, pipeline.Options{BlurIntensity: st.Blur, Style: redact.StyleBlur}), nil
	}

	fake := &fakeAPI{}
	b := newBot(fake, "TOKEN", factory, ledger)
	return b, fake, ledger
}

func TestCommands_UpdateChatSettings(t *testing.T) {
	b, fake, _ := newTestBot(t, nil)

	b.handleMessage(context.Background(), command(1, "/blur 55"))
	b.handleMessage(context.Background(), command(1, "/confidence 0.8"))
	b.handleMessage(context.Background(), command(1, "/model 1"))

	assert.Equal(t, settings.Settings{Blur: 55, Confidence: 0.8, Model: 1}, b.Settings(1))
	assert.Equal(t, settings.Default(), b.Settings(2), "other chats keep the defaults")
	assert.Equal(t, []string{"✅ Blur set to 55", "✅ Confidence set to 0.80", "✅ Model set to 1"}, fake.texts())
}

func TestCommands_RejectOutOfRange(t *testing.T) {
	tests := []string{"/blur 5", "/blur 101", "/blur many", "/confidence 0", "/confidence 1.5", "/model 2", "/blur"}
	for _, text := range tests {
		t.Run(text, func(t *testing.T) {
			b, fake, _ := newTestBot(t, nil)
			b.handleMessage(context.Background(), command(1, text))

			assert.Equal(t, settings.Default(), b.Settings(1))
			require.Len(t, fake.texts(), 1)
			assert.True(t, strings.HasPrefix(fake.texts()[0], "Usage:"), fake.texts()[0])
		})
	}
}

func TestCommands_HelpAndUnknown(t *testing.T) {
	b, fake, _ := newTestBot(t, nil)

	b.handleMessage(context.Background(), command(1, "/start"))
	b.handleMessage(context.Background(), command(1, "/settings"))
	b.handleMessage(context.Background(), command(1, "/dance"))
	b.handleMessage(context.Background(), &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "hello"})

	texts := fake.texts()
	require.Len(t, texts, 4)
	assert.Equal(t, msgStart, texts[0])
	assert.Equal(t, "⚙️ blur 30, confidence 0.50, model 0", texts[1])
	assert.Equal(t, msgUnknownCommand, texts[2])
	assert.Equal(t, msgSendPhoto, texts[3])
}

func TestPhoto_IsBlurredWithChatSettings(t *testing.T) {
	var got settings.Settings
	b, fake, ledger := newTestBot(t, &got)

	var url string
	b.download = func(u string) ([]byte, error) {
		url = u
		return jpegBytes(t), nil
	}

	b.handleMessage(context.Background(), command(7, "/blur 80"))
	b.handleMessage(context.Background(), photoMessage(7))

	assert.Contains(t, url, "TOKEN")
	assert.Contains(t, url, "photos/large.jpg", "the largest size should be downloaded")
	assert.Equal(t, 80, got.Blur)

	photos := fake.photos()
	require.Len(t, photos, 1)
	assert.Equal(t, "✅ 2 face(s) blurred", photos[0].Caption)
	fb, ok := photos[0].File.(tgbotapi.FileBytes)
	require.True(t, ok)
	_, err := imaging.Decode(bytes.NewReader(fb.Bytes))
	assert.NoError(t, err)

	runs, err := ledger.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "bot", runs[0].Command)
	assert.Equal(t, store.StatusDone, runs[0].Status)
	assert.Equal(t, 2, runs[0].Faces)
}

func TestPhoto_DownloadFailure(t *testing.T) {
	b, fake, ledger := newTestBot(t, nil)
	b.download = func(string) ([]byte, error) { return nil, errors.New("network down") }

	b.handleMessage(context.Background(), photoMessage(3))

	assert.Empty(t, fake.photos())
	assert.Equal(t, []string{msgProcessingError}, fake.texts())

	runs, err := ledger.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.StatusFailed, runs[0].Status)
}

func TestRun_StopsOnCancel(t *testing.T) {
	b, fake, _ := newTestBot(t, nil)
	fake.updates = make(chan tgbotapi.Update, 2)
	fake.updates <- tgbotapi.Update{}
	fake.updates <- tgbotapi.Update{Message: command(1, "/help")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return len(fake.texts()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
	assert.True(t, fake.stopped)
}
