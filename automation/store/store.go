// Package store is the PostgreSQL implementation of automation.Store.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/dialogbot/automation"
	"github.com/m3rciful/dialogbot/automation/patterns"
)

// Migrations holds the schema files applied by the migrate command.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations holding the files.
const MigrationsDir = "migrations"

// statColumns whitelists the counter columns IncrementStat may touch.
var statColumns = map[automation.StatKind]string{
	automation.StatDialogs:  "total_dialogs",
	automation.StatSkips:    "total_skips",
	automation.StatReplies:  "total_replies",
	automation.StatTimeouts: "total_timeouts",
}

func statColumn(kind automation.StatKind) (string, error) {
	col, ok := statColumns[kind]
	if !ok {
		return "", fmt.Errorf("store: unknown stat %q", kind)
	}
	return col, nil
}

// Store persists accounts, dialogs, stats and the pattern table.
type Store struct {
	db     *sqlx.DB
	sealer *Sealer
	now    func() time.Time
}

// New returns a Store over db. Sessions are sealed with sealer.
func New(db *sqlx.DB, sealer *Sealer) *Store {
	return &Store{db: db, sealer: sealer, now: time.Now}
}

// LoadCredentials returns the decrypted session of an active account.
func (s *Store) LoadCredentials(ctx context.Context, accountID int64) (automation.Credentials, error) {
	var row struct {
		ID      int64  `db:"id"`
		Phone   string `db:"phone"`
		Session string `db:"session_data"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT id, phone, session_data FROM accounts WHERE id = $1 AND is_active`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return automation.Credentials{}, automation.ErrNotFound
	}
	if err != nil {
		return automation.Credentials{}, fmt.Errorf("load credentials %d: %w", accountID, err)
	}
	session, err := s.sealer.Open(row.Session)
	if err != nil {
		return automation.Credentials{}, fmt.Errorf("load credentials %d: %w", accountID, err)
	}
	return automation.Credentials{AccountID: row.ID, Phone: row.Phone, Session: session}, nil
}

// LoadConfig returns the per-account worker settings.
func (s *Store) LoadConfig(ctx context.Context, accountID int64) (automation.AccountConfig, error) {
	var cfg automation.AccountConfig
	err := s.db.GetContext(ctx, &cfg, `
		SELECT id, greeting_text, cooldown_search, cooldown_send, cooldown_skip, inactivity_timeout
		FROM accounts WHERE id = $1`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return automation.AccountConfig{}, automation.ErrNotFound
	}
	if err != nil {
		return automation.AccountConfig{}, fmt.Errorf("load config %d: %w", accountID, err)
	}
	return cfg, nil
}

// UpdateStatus records the worker state. An empty errMsg clears the stored error.
func (s *Store) UpdateStatus(ctx context.Context, accountID int64, state automation.State, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET status = $2, last_active = $3, error_message = NULLIF($4, '')
		WHERE id = $1`, accountID, string(state), s.now(), errMsg)
	if err != nil {
		return fmt.Errorf("update status %d: %w", accountID, err)
	}
	return nil
}

// AppendDialogRecord inserts one captured reply.
func (s *Store) AppendDialogRecord(ctx context.Context, rec automation.DialogRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO dialogs (account_id, username, user_id, first_message, content_type, outcome, response_latency_seconds, timestamp)
		VALUES (:account_id, :username, :user_id, :first_message, :content_type, :outcome, :response_latency_seconds, :timestamp)`, rec)
	if err != nil {
		return fmt.Errorf("append dialog %d: %w", rec.AccountID, err)
	}
	return nil
}

type patternRow struct {
	PartnerFound    pq.StringArray `db:"partner_found"`
	PartnerSkipped  pq.StringArray `db:"partner_skipped"`
	AlreadyInDialog pq.StringArray `db:"already_in_dialog"`
	SystemMessages  pq.StringArray `db:"system_messages"`
}

func (r patternRow) set() patterns.Set {
	return patterns.Set{
		PartnerFound:    []string(r.PartnerFound),
		PartnerSkipped:  []string(r.PartnerSkipped),
		AlreadyInDialog: []string(r.AlreadyInDialog),
		SystemMessage:   []string(r.SystemMessages),
	}
}

func rowFromSet(set patterns.Set) patternRow {
	return patternRow{
		PartnerFound:    pq.StringArray(set.PartnerFound),
		PartnerSkipped:  pq.StringArray(set.PartnerSkipped),
		AlreadyInDialog: pq.StringArray(set.AlreadyInDialog),
		SystemMessages:  pq.StringArray(set.SystemMessage),
	}
}

// LoadPatternSet reads the singleton pattern row. A missing row yields the defaults.
func (s *Store) LoadPatternSet(ctx context.Context) (patterns.Set, error) {
	var row patternRow
	err := s.db.GetContext(ctx, &row, `
		SELECT partner_found, partner_skipped, already_in_dialog, system_messages
		FROM bot_patterns WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return patterns.DefaultSet(), nil
	}
	if err != nil {
		return patterns.Set{}, fmt.Errorf("load patterns: %w", err)
	}
	return row.set(), nil
}

// SavePatternSet replaces the singleton pattern row.
func (s *Store) SavePatternSet(ctx context.Context, set patterns.Set) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO bot_patterns (id, partner_found, partner_skipped, already_in_dialog, system_messages)
		VALUES (1, :partner_found, :partner_skipped, :already_in_dialog, :system_messages)
		ON CONFLICT (id) DO UPDATE SET
			partner_found = EXCLUDED.partner_found,
			partner_skipped = EXCLUDED.partner_skipped,
			already_in_dialog = EXCLUDED.already_in_dialog,
			system_messages = EXCLUDED.system_messages`, rowFromSet(set))
	if err != nil {
		return fmt.Errorf("save patterns: %w", err)
	}
	return nil
}

// IncrementStat bumps today's counter for the account.
func (s *Store) IncrementStat(ctx context.Context, accountID int64, kind automation.StatKind) error {
	col, err := statColumn(kind)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`
		INSERT INTO stats (account_id, date, %[1]s) VALUES ($1, $2, 1)
		ON CONFLICT (account_id, date) DO UPDATE SET %[1]s = stats.%[1]s + 1`, col)
	if _, err := s.db.ExecContext(ctx, q, accountID, s.now().UTC().Format(time.DateOnly)); err != nil {
		return fmt.Errorf("increment %s %d: %w", kind, accountID, err)
	}
	return nil
}

// ListActiveAccounts returns the ids of accounts flagged active.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM accounts WHERE is_active ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}
	return ids, nil
}

// NewAccount is the input of AddAccount.
type NewAccount struct {
	Phone    string
	Session  string
	Greeting string
}

// upsertAccountSQL keeps a stored greeting when $3 is empty.
const upsertAccountSQL = `
	INSERT INTO accounts (phone, session_data, greeting_text)
	VALUES ($1, $2, COALESCE(NULLIF($3::text, ''), 'Привет!'))
	ON CONFLICT (phone) DO UPDATE SET
		session_data = EXCLUDED.session_data,
		greeting_text = CASE WHEN $3::text = '' THEN accounts.greeting_text ELSE EXCLUDED.greeting_text END,
		is_active = TRUE
	RETURNING id`

// AddAccount seals the session and inserts or refreshes the account by phone.
func (s *Store) AddAccount(ctx context.Context, in NewAccount) (int64, error) {
	sealed, err := s.sealer.Seal(in.Session)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.GetContext(ctx, &id, upsertAccountSQL, in.Phone, sealed, in.Greeting)
	if err != nil {
		return 0, fmt.Errorf("add account %s: %w", in.Phone, err)
	}
	return id, nil
}

// SetActive toggles whether StartAll picks the account up.
func (s *Store) SetActive(ctx context.Context, accountID int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET is_active = $2 WHERE id = $1`, accountID, active)
	if err != nil {
		return fmt.Errorf("set active %d: %w", accountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return automation.ErrNotFound
	}
	return nil
}

// AccountSummary is one row of the operator account list.
type AccountSummary struct {
	ID           int64          `db:"id"`
	Phone        string         `db:"phone"`
	Status       string         `db:"status"`
	IsActive     bool           `db:"is_active"`
	LastActive   sql.NullTime   `db:"last_active"`
	ErrorMessage sql.NullString `db:"error_message"`
}

// ListAccounts returns every account ordered by id.
func (s *Store) ListAccounts(ctx context.Context) ([]AccountSummary, error) {
	var out []AccountSummary
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, phone, status, is_active, last_active, error_message
		FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}

// Totals sums the daily counters over a period.
type Totals struct {
	Dialogs  int64 `db:"dialogs"`
	Skips    int64 `db:"skips"`
	Replies  int64 `db:"replies"`
	Timeouts int64 `db:"timeouts"`
}

// ReplyRate is replies per started dialog.
func (t Totals) ReplyRate() float64 {
	if t.Dialogs == 0 {
		return 0
	}
	return float64(t.Replies) / float64(t.Dialogs)
}

// StatsSince sums counters of all accounts from the given day onwards.
func (s *Store) StatsSince(ctx context.Context, since time.Time) (Totals, error) {
	var t Totals
	err := s.db.GetContext(ctx, &t, `
		SELECT COALESCE(SUM(total_dialogs), 0)  AS dialogs,
		       COALESCE(SUM(total_skips), 0)    AS skips,
		       COALESCE(SUM(total_replies), 0)  AS replies,
		       COALESCE(SUM(total_timeouts), 0) AS timeouts
		FROM stats WHERE date >= $1`, since.UTC().Format(time.DateOnly))
	if err != nil {
		return Totals{}, fmt.Errorf("stats since %s: %w", since.Format(time.DateOnly), err)
	}
	return t, nil
}

var _ automation.Store = (*Store)(nil)
