// Package bot is a Telegram front end: a photo in, the same photo with every
// face blurred out.
package bot

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/andresmejia3/anonymizer/internal/pipeline"
	"github.com/andresmejia3/anonymizer/internal/settings"
	"github.com/andresmejia3/anonymizer/internal/store"
	"github.com/disintegration/imaging"
)

const (
	msgStart = `👋 Send me a photo and I will blur every face in it.

📋 Commands:
/blur N - blur strength (10-100)
/confidence X - detection threshold (0.1-1.0)
/model 0|1 - 0 for close faces, 1 for far faces
/settings - show current settings
/help - this message`

	msgSendPhoto       = "📸 Please send a photo."
	msgUnknownCommand  = "❓ Unknown command. Use /help."
	msgProcessingError = "⚠️ Could not process the image. Try another photo."
)

// api is the part of *tgbotapi.BotAPI the bot uses.
type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot handles Telegram updates.
type Bot struct {
	api          api
	token        string
	newProcessor pipeline.ProcessorFactory
	ledger       store.Store
	download     func(url string) ([]byte, error)

	mu    sync.Mutex
	chats map[int64]settings.Settings
}

// New connects to Telegram with token.
func New(token string, factory pipeline.ProcessorFactory, ledger store.Store) (*Bot, error) {
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	log.Printf("Authorized on account %s", botAPI.Self.UserName)
	return newBot(botAPI, token, factory, ledger), nil
}

func newBot(a api, token string, factory pipeline.ProcessorFactory, ledger store.Store) *Bot {
	if ledger == nil {
		ledger = store.Discard{}
	}
	return &Bot{
		api:          a,
		token:        token,
		newProcessor: factory,
		ledger:       ledger,
		download:     httpDownload,
		chats:        make(map[int64]settings.Settings),
	}
}

// Run processes updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

// Settings returns the settings of a chat.
func (b *Bot) Settings(chatID int64) settings.Settings {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.chats[chatID]; ok {
		return s
	}
	return settings.Default()
}

func (b *Bot) update(chatID int64, fn func(*settings.Settings)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.chats[chatID]
	if !ok {
		s = settings.Default()
	}
	fn(&s)
	b.chats[chatID] = s
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handleCommand(msg)
		return
	}
	if len(msg.Photo) > 0 {
		b.handlePhoto(ctx, msg)
		return
	}
	b.sendMessage(msg.Chat.ID, msgSendPhoto)
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	arg := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		b.sendMessage(chatID, msgStart)

	case "settings":
		s := b.Settings(chatID)
		b.sendMessage(chatID, fmt.Sprintf("⚙️ blur %d, confidence %.2f, model %d", s.Blur, s.Confidence, s.Model))

	case "blur":
		n, err := strconv.Atoi(arg)
		if err == nil {
			err = settings.ValidateBlur(n)
		}
		if err != nil {
			b.sendMessage(chatID, fmt.Sprintf("Usage: /blur N with N between %d and %d", settings.MinBlur, settings.MaxBlur))
			return
		}
		b.update(chatID, func(s *settings.Settings) { s.Blur = n })
		b.sendMessage(chatID, fmt.Sprintf("✅ Blur set to %d", n))

	case "confidence":
		f, err := strconv.ParseFloat(arg, 64)
		if err == nil {
			err = settings.ValidateConfidence(f)
		}
		if err != nil {
			b.sendMessage(chatID, fmt.Sprintf("Usage: /confidence X with X between %.1f and %.1f", settings.MinConfidence, settings.MaxConfidence))
			return
		}
		b.update(chatID, func(s *settings.Settings) { s.Confidence = f })
		b.sendMessage(chatID, fmt.Sprintf("✅ Confidence set to %.2f", f))

	case "model":
		n, err := strconv.Atoi(arg)
		if err == nil {
			err = settings.ValidateModel(n)
		}
		if err != nil {
			b.sendMessage(chatID, "Usage: /model 0 (close faces) or /model 1 (far faces)")
			return
		}
		b.update(chatID, func(s *settings.Settings) { s.Model = n })
		b.sendMessage(chatID, fmt.Sprintf("✅ Model set to %d", n))

	default:
		b.sendMessage(chatID, msgUnknownCommand)
	}
}

func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	// Largest size last
	photo := msg.Photo[len(msg.Photo)-1]

	runID, err := b.ledger.CreateRun(ctx, "bot", photo.FileID, "")
	if err != nil {
		log.Printf("ledger: %v", err)
	}

	faces, err := b.blurPhoto(ctx, chatID, photo.FileID)
	if lerr := b.ledger.FinishRun(context.Background(), runID, faces, 1, err); lerr != nil {
		log.Printf("ledger: %v", lerr)
	}
	if err != nil {
		log.Printf("Error processing photo: %v", err)
		b.sendMessage(chatID, msgProcessingError)
	}
}

func (b *Bot) blurPhoto(ctx context.Context, chatID int64, fileID string) (int, error) {
	data, err := b.downloadFile(fileID)
	if err != nil {
		return 0, err
	}

	proc, err := b.newProcessor(ctx, b.Settings(chatID))
	if err != nil {
		return 0, err
	}
	defer proc.Detector.Close()

	out, faces, err := proc.ProcessImageBytes(ctx, data, imaging.JPEG)
	if err != nil {
		return 0, err
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "blurred.jpg", Bytes: out})
	photo.Caption = fmt.Sprintf("✅ %d face(s) blurred", faces)
	if _, err := b.api.Send(photo); err != nil {
		return faces, fmt.Errorf("send photo: %w", err)
	}
	return faces, nil
}

// downloadFile fetches a file from Telegram.
func (b *Bot) downloadFile(fileID string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return b.download(file.Link(b.token))
}

func httpDownload(url string) ([]byte, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}
