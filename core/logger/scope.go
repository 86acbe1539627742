package logger

import (
	"context"
	"strconv"
	"strings"
)

// scope holds the correlation fields carried by a context. It is copied on
// every change so parents never observe a child's fields.
type scope struct {
	rid       string
	accountID int64
	updateID  int
	chatID    int64
	userID    int64
	handler   string
}

type scopeKey struct{}

func scopeOf(ctx context.Context) scope {
	if ctx == nil {
		return scope{}
	}
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

func withScope(ctx context.Context, edit func(*scope)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	s := scopeOf(ctx)
	edit(&s)
	return context.WithValue(ctx, scopeKey{}, s)
}

// WithRID tags ctx with a correlation id: a worker run or an operator update.
func WithRID(ctx context.Context, rid string) context.Context {
	return withScope(ctx, func(s *scope) { s.rid = rid })
}

// RID returns the correlation id of ctx.
func RID(ctx context.Context) string { return scopeOf(ctx).rid }

// WithAccount tags ctx with the automated account the lines belong to. Zero is ignored.
func WithAccount(ctx context.Context, accountID int64) context.Context {
	if accountID == 0 {
		if ctx == nil {
			return context.Background()
		}
		return ctx
	}
	return withScope(ctx, func(s *scope) { s.accountID = accountID })
}

// AccountID returns the account of ctx, zero when untagged.
func AccountID(ctx context.Context) int64 { return scopeOf(ctx).accountID }

// WithUpdate tags ctx with the operator bot update being handled.
func WithUpdate(ctx context.Context, updateID int, chatID, userID int64) context.Context {
	return withScope(ctx, func(s *scope) {
		s.updateID = updateID
		s.chatID = chatID
		s.userID = userID
	})
}

// WithHandler names the operator command or button handling the update.
func WithHandler(ctx context.Context, handler string) context.Context {
	return withScope(ctx, func(s *scope) { s.handler = handler })
}

// UpdateRID derives a short correlation id for an operator update.
func UpdateRID(updateID int, chatID, userID int64) string {
	parts := []string{
		strconv.FormatInt(int64(updateID), 36),
		strconv.FormatInt(chatID, 36),
		strconv.FormatInt(userID, 36),
	}
	return strings.Join(parts, ".")
}

// fill copies the non-empty scope fields into f without overwriting explicit attrs.
func (s scope) fill(f fields) {
	if s.rid != "" {
		f.setDefault("rid", s.rid)
	}
	if s.accountID != 0 {
		f.setDefault("account_id", s.accountID)
	}
	if s.updateID != 0 {
		f.setDefault("update_id", int64(s.updateID))
	}
	if s.chatID != 0 {
		f.setDefault("chat_id", s.chatID)
	}
	if s.userID != 0 {
		f.setDefault("user_id", s.userID)
	}
	if s.handler != "" {
		f.setDefault("handler", s.handler)
	}
}
