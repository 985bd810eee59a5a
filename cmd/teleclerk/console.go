package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/teleclerk/teleclerk/pkg/app"
	"github.com/teleclerk/teleclerk/pkg/config"
	"github.com/teleclerk/teleclerk/pkg/domain"
	"github.com/teleclerk/teleclerk/pkg/domain/update"
)

// consoleSender prints replies to stdout instead of a chat.
type consoleSender struct{}

func (consoleSender) SendText(ctx context.Context, chatID int64, text string) error {
	fmt.Printf("\n%s\n\n", text)
	return nil
}

// consoleUser is the synthetic platform identity for the local REPL.
const consoleUser int64 = 1

// runConsole feeds stdin lines straight into the orchestrator: the full
// pipeline minus Telegram, for local development.
func runConsole(ctx context.Context, cfg *config.Config) error {
	container, err := app.NewContainer(cfg, consoleSender{}, nil)
	if err != nil {
		return err
	}
	defer container.Close()

	rl, err := readline.New("you> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println("Teleclerk console. Type a message; Ctrl-D exits.")

	var updateID int64
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		updateID++
		u := update.InboundUpdate{
			UpdateID:       updateID,
			PlatformUserID: consoleUser,
			ChatID:         consoleUser,
			Text:           line,
			Channel:        domain.ChannelText,
			Profile:        domain.Metadata{"username": "console"},
			ReceivedAt:     domain.Now(),
		}
		if err := container.Orchestrator.Process(ctx, u); err != nil {
			fmt.Println("error:", err)
		}
	}
}
