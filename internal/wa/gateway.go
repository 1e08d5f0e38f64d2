package wa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"order-chatbot/internal/config"
	"order-chatbot/internal/convo"
	"order-chatbot/internal/metrics"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// ErrOperatorNotAllowed is returned for messages from numbers outside the
// operator list.
var ErrOperatorNotAllowed = errors.New("sender is not an operator")

const queueSize = 32

// Responder answers one operator message.
type Responder interface {
	Respond(ctx context.Context, in convo.Inbound) (string, error)
}

type textSender interface {
	SendText(ctx context.Context, to types.JID, text string) error
}

// Config holds WhatsApp session settings.
type Config struct {
	StorePath string
	LogLevel  string
	Operators []string
}

// Gateway relays operator WhatsApp messages to the dialogue engine.
type Gateway struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	responder Responder
	sender    textSender
	operators map[string]bool
	queue     chan *events.Message
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewGateway opens the device store and prepares the client. The session is
// paired on Start when the store holds no device yet.
func NewGateway(ctx context.Context, cfg Config, responder Responder, m *metrics.Metrics, logger *slog.Logger) (*Gateway, error) {
	if dir := filepath.Dir(cfg.StorePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create whatsapp store dir: %w", err)
		}
	}
	dbLog := waLog.Stdout("Database", cfg.LogLevel, true)
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", cfg.StorePath)
	container, err := sqlstore.New(ctx, "sqlite", dsn, dbLog)
	if err != nil {
		return nil, fmt.Errorf("open whatsapp store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load whatsapp device: %w", err)
	}

	g := newGateway(responder, cfg.Operators, m, logger)
	g.container = container
	g.client = whatsmeow.NewClient(device, waLog.Stdout("Client", cfg.LogLevel, true))
	g.sender = g
	g.client.AddEventHandler(g.handleEvent)
	return g, nil
}

func newGateway(responder Responder, operators []string, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	allowed := make(map[string]bool, len(operators))
	for _, op := range operators {
		if user := normalizeOperator(op); user != "" {
			allowed[user] = true
		}
	}
	return &Gateway{
		responder: responder,
		operators: allowed,
		queue:     make(chan *events.Message, queueSize),
		metrics:   m,
		logger:    logger.With("component", "whatsapp"),
	}
}

// Start connects to WhatsApp and processes messages until ctx is done.
func (g *Gateway) Start(ctx context.Context) error {
	if g.client.Store.ID == nil {
		qrChan, err := g.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}
		if err := g.client.Connect(); err != nil {
			return fmt.Errorf("connect whatsapp: %w", err)
		}
		go func() {
			for item := range qrChan {
				if item.Event == "code" {
					g.logger.Info("scan qr code to pair", "code", item.Code)
					continue
				}
				g.logger.Info("pairing event", "event", item.Event)
			}
		}()
	} else if err := g.client.Connect(); err != nil {
		return fmt.Errorf("connect whatsapp: %w", err)
	}

	g.logger.Info("whatsapp connected", "operators", len(g.operators))
	g.run(ctx)
	return nil
}

// Stop disconnects the client and closes the device store.
func (g *Gateway) Stop() {
	if g.client != nil {
		g.client.Disconnect()
	}
	if g.container != nil {
		if err := g.container.Close(); err != nil {
			g.logger.Warn("close whatsapp store failed", "error", err)
		}
	}
}

// SendText sends a plain text message.
func (g *Gateway) SendText(ctx context.Context, to types.JID, text string) error {
	_, err := g.client.SendMessage(ctx, to, &waProto.Message{Conversation: proto.String(text)})
	if err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	return nil
}

// run drains the queue on one goroutine so replies keep message order.
func (g *Gateway) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-g.queue:
			g.handleMessage(ctx, evt)
		}
	}
}

func (g *Gateway) handleEvent(raw any) {
	switch evt := raw.(type) {
	case *events.Message:
		select {
		case g.queue <- evt:
		default:
			g.logger.Warn("message queue full, dropping message", "id", evt.Info.ID)
			g.countError("whatsapp_queue")
		}
	case *events.Connected:
		g.logger.Info("whatsapp session ready")
	case *events.LoggedOut:
		g.logger.Error("whatsapp session logged out", "on_connect", evt.OnConnect)
	}
}

func (g *Gateway) handleMessage(ctx context.Context, evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	sender := operatorJID(evt.Info.MessageSource)
	if err := g.authorize(sender); err != nil {
		g.logger.Warn("ignoring message", "sender", sender.String(), "error", err)
		return
	}

	text := extractText(evt.Message)
	if text == "" {
		g.logger.Debug("non-text message", "type", detectMessageType(evt.Message))
		g.reply(ctx, evt.Info.Chat, "Please send your request as text.")
		return
	}

	reply, err := g.responder.Respond(ctx, convo.Inbound{
		Channel: config.ChannelWhatsApp,
		Sender:  sender.ToNonAD().String(),
		Text:    text,
	})
	if err != nil {
		g.logger.Warn("message failed", "sender", sender.String(), "error", err)
	}
	g.reply(ctx, evt.Info.Chat, reply)
}

func (g *Gateway) reply(ctx context.Context, to types.JID, text string) {
	if err := g.sender.SendText(ctx, to, text); err != nil {
		g.logger.Error("reply failed", "to", to.String(), "error", err)
		g.countError("whatsapp_send")
	}
}

func (g *Gateway) authorize(jid types.JID) error {
	if !g.operators[jid.User] {
		return fmt.Errorf("%w: %s", ErrOperatorNotAllowed, jid.User)
	}
	return nil
}

// operatorJID prefers the phone-number JID when WhatsApp addresses the sender
// by LID, since the operator list holds phone numbers.
func operatorJID(src types.MessageSource) types.JID {
	if src.Sender.Server == types.HiddenUserServer && !src.SenderAlt.IsEmpty() {
		return src.SenderAlt
	}
	return src.Sender
}

func (g *Gateway) countError(component string) {
	if g.metrics != nil {
		g.metrics.Errors.WithLabelValues(component).Inc()
	}
}

// normalizeOperator accepts "+62 812-345", "62812345" or a full JID.
func normalizeOperator(op string) string {
	op = strings.TrimSpace(op)
	if strings.Contains(op, "@") {
		jid, err := types.ParseJID(op)
		if err != nil {
			return ""
		}
		return jid.User
	}
	var sb strings.Builder
	for _, r := range op {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func detectMessageType(msg *waProto.Message) string {
	switch {
	case msg == nil:
		return "unknown"
	case msg.GetConversation() != "":
		return "text"
	case msg.ExtendedTextMessage != nil:
		return "extended_text"
	case msg.ImageMessage != nil:
		return "image"
	case msg.VideoMessage != nil:
		return "video"
	case msg.AudioMessage != nil:
		return "audio"
	case msg.DocumentMessage != nil:
		return "document"
	default:
		return "unknown"
	}
}

func extractText(msg *waProto.Message) string {
	switch {
	case msg == nil:
		return ""
	case msg.GetConversation() != "":
		return strings.TrimSpace(msg.GetConversation())
	case msg.ExtendedTextMessage != nil:
		return strings.TrimSpace(msg.GetExtendedTextMessage().GetText())
	default:
		return ""
	}
}
