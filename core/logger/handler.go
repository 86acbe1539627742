package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	keyComponent = "component"
	keyEvent     = "event"

	tsLayout = "2006-01-02T15:04:05.000Z07:00"
)

// defaultLeading keeps the fields an operator scans first at the start of each line.
var defaultLeading = []string{
	"ts", "level", keyComponent, keyEvent, "status",
	"rid", "account_id", "state", "from", "to", "step", "op",
	"update_id", "chat_id", "user_id", "handler", "cb_key",
	"notice", "content_type", "attempts", "backoff_ms", "duration_ms",
	"workers", "count", "err",
}

var levelNames = map[slog.Level]string{
	slog.LevelDebug: "DEBUG",
	slog.LevelInfo:  "INFO",
	slog.LevelWarn:  "WARN",
	slog.LevelError: "ERROR",
}

// keyOrder parses a comma separated override of the leading keys.
func keyOrder(spec string) []string {
	var keys []string
	for _, k := range strings.Split(spec, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 || (len(keys) == 1 && keys[0] == "default") {
		return defaultLeading
	}
	return keys
}

// fields is one log line before encoding.
type fields map[string]any

func (f fields) setDefault(key string, v any) {
	if _, ok := f[key]; !ok {
		f[key] = v
	}
}

func (f fields) text(key string) string {
	s, _ := f[key].(string)
	return s
}

// keys returns the leading keys present in f followed by the rest sorted.
func (f fields) keys(leading []string) []string {
	out := make([]string, 0, len(f))
	taken := make(map[string]bool, len(leading))
	for _, k := range leading {
		if _, ok := f[k]; ok && !taken[k] {
			out = append(out, k)
			taken[k] = true
		}
	}
	rest := make([]string, 0, len(f)-len(out))
	for k := range f {
		if !taken[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

type handlerOptions struct {
	level   slog.Leveler
	sink    lineWriter
	json    bool
	leading []string
}

type lineWriter interface {
	WriteLine(p []byte) error
}

// handler is a slog.Handler producing flat, ordered lines.
type handler struct {
	opts   handlerOptions
	preset []slog.Attr
	prefix string
}

func newHandler(opts handlerOptions) *handler {
	if opts.level == nil {
		opts.level = slog.LevelInfo
	}
	if len(opts.leading) == 0 {
		opts.leading = defaultLeading
	}
	return &handler{opts: opts}
}

func (h *handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.opts.level.Level()
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	f := make(fields, 12+r.NumAttrs())
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	f["ts"] = ts.UTC().Format(tsLayout)
	f["level"] = levelName(r.Level)

	for _, a := range h.preset {
		h.add(f, h.prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.add(f, h.prefix, a)
		return true
	})
	scopeOf(ctx).fill(f)

	if f.text(keyEvent) == "" {
		f[keyEvent] = r.Message
		if r.Message == "" {
			f[keyEvent] = "unknown"
		}
	}
	if f.text(keyComponent) == "" {
		f[keyComponent] = "app"
	}
	if s := f.text("status"); s != "" {
		f["status"] = strings.ToLower(s)
	}

	var line []byte
	if h.opts.json {
		var err error
		if line, err = encodeJSON(f, h.opts.leading); err != nil {
			return err
		}
	} else {
		line = encodeKV(f, h.opts.leading)
	}
	return h.opts.sink.WriteLine(append(line, '\n'))
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.preset = append(append([]slog.Attr(nil), h.preset...), attrs...)
	return &c
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = joinKey(h.prefix, name)
	return &c
}

func levelName(l slog.Level) string {
	if n, ok := levelNames[l]; ok {
		return n
	}
	return strings.ToUpper(l.String())
}

func joinKey(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	}
	return prefix + "." + key
}

// add flattens groups into dotted keys and drops empty values.
func (h *handler) add(f fields, prefix string, a slog.Attr) {
	key := joinKey(prefix, a.Key)
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, child := range v.Group() {
			h.add(f, key, child)
		}
		return
	}
	if key == "" {
		return
	}
	key, val, ok := flatValue(key, v)
	if !ok {
		return
	}
	f[key] = val
}

func flatValue(key string, v slog.Value) (string, any, bool) {
	switch v.Kind() {
	case slog.KindString:
		s := strings.TrimSpace(v.String())
		return key, s, s != ""
	case slog.KindInt64:
		return key, v.Int64(), true
	case slog.KindUint64:
		if u := v.Uint64(); u <= math.MaxInt64 {
			return key, int64(u), true
		}
		return key, v.Uint64(), true
	case slog.KindFloat64:
		return key, v.Float64(), true
	case slog.KindBool:
		return key, v.Bool(), true
	case slog.KindDuration:
		return millisKey(key), RoundMS(v.Duration()).Milliseconds(), true
	case slog.KindTime:
		return key, v.Time().UTC().Format(time.RFC3339Nano), true
	}
	switch x := v.Any().(type) {
	case nil:
		return key, nil, false
	case error:
		return key, x.Error(), true
	case time.Duration:
		return millisKey(key), RoundMS(x).Milliseconds(), true
	case fmt.Stringer:
		s := x.String()
		return key, s, s != ""
	default:
		return key, fmt.Sprint(x), true
	}
}

// millisKey renames duration attrs so the unit is part of the key.
func millisKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	}
	return key + "_ms"
}

func encodeJSON(f fields, leading []string) ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, k := range f.keys(leading) {
		v, err := json.Marshal(f[k])
		if err != nil {
			return nil, fmt.Errorf("logger: encode %s: %w", k, err)
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

func encodeKV(f fields, leading []string) []byte {
	var b bytes.Buffer
	for i, k := range f.keys(leading) {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(kvValue(f[k]))
	}
	return b.Bytes()
}

func kvValue(v any) string {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case bool:
		s = strconv.FormatBool(x)
	case int64:
		s = strconv.FormatInt(x, 10)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	default:
		s = fmt.Sprint(x)
	}
	if strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}
