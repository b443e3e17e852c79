package options

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/YJPM/ti-options/internal/host"
	"github.com/YJPM/ti-options/plugins/options/llm"
	"golang.org/x/sync/errgroup"
)

// Extract reads a PromptContext from the host adapter. Each field is read
// independently; a failing read leaves that field empty and is logged at
// debug level, it never fails the extraction.
func Extract(ctx context.Context, a host.Adapter, historyLimit int, logger *slog.Logger) PromptContext {
	var pc PromptContext
	g, gctx := errgroup.WithContext(ctx)

	step := func(name string, fn func(context.Context) error) {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
				if err != nil {
					logger.Debug("context step degraded", "step", name, "adapter", a.Kind(), "err", err)
				}
				err = nil
			}()
			return fn(gctx)
		})
	}

	step("user_input", func(ctx context.Context) error {
		in, err := a.UserInput(ctx)
		pc.UserInput = in
		return err
	})
	step("character", func(ctx context.Context) error {
		c, err := a.Character(ctx)
		if err != nil {
			return err
		}
		pc.CharacterCard = FormatCharacter(c)
		return nil
	})
	step("world_info", func(ctx context.Context) error {
		entries, err := a.WorldInfo(ctx)
		if err != nil {
			return err
		}
		pc.WorldInfo = FormatWorldInfo(entries)
		return nil
	})
	step("messages", func(ctx context.Context) error {
		msgs, err := a.Messages(ctx)
		if err != nil {
			return err
		}
		pc.Messages = ChatHistory(msgs, historyLimit)
		return nil
	})

	g.Wait()
	if pc.Messages == nil {
		pc.Messages = []llm.Message{}
	}
	return pc
}

// FormatCharacter renders a character card as labelled lines, skipping
// empty fields.
func FormatCharacter(c host.Character) string {
	var lines []string
	add := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" {
			lines = append(lines, label+": "+v)
		}
	}
	add("Name", c.Name)
	add("Description", c.Description)
	add("Personality", c.Personality)
	add("Scenario", c.Scenario)
	return strings.Join(lines, "\n")
}

// FormatWorldInfo joins enabled entry contents with blank lines.
func FormatWorldInfo(entries []host.WorldEntry) string {
	var parts []string
	for _, e := range entries {
		if e.Disabled {
			continue
		}
		if c := strings.TrimSpace(e.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n\n")
}

// ChatHistory keeps user and assistant messages in chat order and returns
// the last limit of them.
func ChatHistory(msgs []host.Message, limit int) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case host.RoleUser, host.RoleAssistant:
			out = append(out, llm.Message{Role: m.Role, Content: m.Content})
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
