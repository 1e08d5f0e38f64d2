package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"order-chatbot/internal/config"
	"order-chatbot/internal/convo"
)

const (
	promptPrefix = "Supervisor: "
	replyPrefix  = "Chatbot: "
	quitCommand  = "quit"
)

// Responder answers one operator message.
type Responder interface {
	Respond(ctx context.Context, in convo.Inbound) (string, error)
}

// Loop reads operator lines from in and writes the replies to out.
type Loop struct {
	responder Responder
	reader    *bufio.Reader
	out       io.Writer
	sender    string
	logger    *slog.Logger
}

// New creates a console loop. sender names the operator in the transcript.
func New(responder Responder, in io.Reader, out io.Writer, sender string, logger *slog.Logger) *Loop {
	return &Loop{
		responder: responder,
		reader:    bufio.NewReader(in),
		out:       out,
		sender:    sender,
		logger:    logger.With("component", "console"),
	}
}

// Run blocks until the operator types quit, input ends or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if _, err := fmt.Fprint(l.out, promptPrefix); err != nil {
			return err
		}
		line, err := l.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read input: %w", err)
		}
		line = strings.TrimSpace(line)
		if strings.EqualFold(line, quitCommand) {
			return nil
		}
		if line != "" {
			reply, handleErr := l.responder.Respond(ctx, convo.Inbound{
				Channel: config.ChannelConsole,
				Sender:  l.sender,
				Text:    line,
			})
			if handleErr != nil {
				l.logger.Warn("message failed", "error", handleErr)
			}
			if _, werr := fmt.Fprintln(l.out, replyPrefix+reply); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(l.out)
			return nil
		}
	}
}
