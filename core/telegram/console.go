package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/dialogbot/core/logger"
)

// Command is one slash command of the operator bot.
type Command struct {
	Name    string
	Help    string
	Handler tele.HandlerFunc
	// Operator restricts the command to the operator and hides it from the public menu.
	Operator bool
}

// Console collects the commands and button actions the bot answers to.
type Console struct {
	mu       sync.RWMutex
	commands map[string]Command
	actions  map[string]tele.HandlerFunc
	unknown  tele.HandlerFunc
}

// NewConsole returns an empty console. Presses of unknown buttons get a short toast.
func NewConsole() *Console {
	return &Console{
		commands: make(map[string]Command),
		actions:  make(map[string]tele.HandlerFunc),
		unknown: func(c tele.Context) error {
			return c.Respond(&tele.CallbackResponse{Text: "Unsupported action"})
		},
	}
}

// Command registers cmd. Names start with a slash and must be unique.
func (c *Console) Command(cmd Command) error {
	switch {
	case !strings.HasPrefix(cmd.Name, "/") || len(cmd.Name) < 2:
		return fmt.Errorf("console: command %q must start with /", cmd.Name)
	case cmd.Handler == nil || strings.TrimSpace(cmd.Help) == "":
		return fmt.Errorf("console: command %s needs a handler and help", cmd.Name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.commands[cmd.Name]; dup {
		return fmt.Errorf("console: command %s registered twice", cmd.Name)
	}
	c.commands[cmd.Name] = cmd
	return nil
}

// Action registers the handler of the buttons built with key.
func (c *Console) Action(key string, h tele.HandlerFunc) error {
	if key == "" || h == nil {
		return errors.New("console: action needs a key and a handler")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.actions[key]; dup {
		return fmt.Errorf("console: action %s registered twice", key)
	}
	c.actions[key] = h
	return nil
}

// OnUnknown replaces the answer to presses without a registered action.
func (c *Console) OnUnknown(h tele.HandlerFunc) {
	if h == nil {
		return
	}
	c.mu.Lock()
	c.unknown = h
	c.mu.Unlock()
}

// Commands returns the registered commands sorted by name.
func (c *Console) Commands() []Command {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Command, 0, len(c.commands))
	for _, cmd := range c.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Actions returns the registered action keys, sorted.
func (c *Console) Actions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.actions))
	for k := range c.actions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Console) action(key string) (tele.HandlerFunc, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if h, ok := c.actions[key]; ok {
		return h, true
	}
	return c.unknown, false
}

// Menu lists the commands shown in the client menu. The public menu leaves
// operator commands out.
func (c *Console) Menu(operator bool) []tele.Command {
	var menu []tele.Command
	for _, cmd := range c.Commands() {
		if cmd.Operator && !operator {
			continue
		}
		menu = append(menu, tele.Command{Text: strings.TrimPrefix(cmd.Name, "/"), Description: cmd.Help})
	}
	return menu
}

// publish installs the public menu and, in the operator's private chat, the full one.
func (c *Console) publish(ctx context.Context, bot *tele.Bot, operatorID int64) {
	if err := bot.SetCommands(c.Menu(false)); err != nil {
		logger.Warn(ctx, component, "tg.menu",
			slog.String("status", "fail"),
			slog.String("scope", "default"),
			slog.String("err", err.Error()),
		)
	}
	if operatorID == 0 {
		return
	}
	scope := tele.CommandScope{Type: tele.CommandScopeChat, ChatID: operatorID}
	if err := bot.SetCommands(c.Menu(true), scope); err != nil {
		logger.Warn(ctx, component, "tg.menu",
			slog.String("status", "fail"),
			slog.String("scope", "operator"),
			slog.String("err", err.Error()),
		)
		return
	}
	logger.Debug(ctx, component, "tg.menu",
		slog.String("status", "ok"),
		slog.Int("count", len(c.Menu(true))),
	)
}
