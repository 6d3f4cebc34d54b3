package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finpilot/mail-finance-pilot/internal/core"
)

// SQLStore implements core.Store over database/sql. The same statements run
// against SQLite, MySQL and Postgres; only the DDL and placeholder style
// differ per backend. All timestamps are stored as RFC3339 text and amounts
// as decimal strings so the three backends behave identically.
type SQLStore struct {
	db     *sql.DB
	logger *zap.Logger
	// rebind rewrites ? placeholders for backends that use a different
	// style. SQLite and MySQL pass through unchanged.
	rebind func(string) string
}

func passthrough(q string) string { return q }

// rebindDollar converts ? placeholders to $1..$n for Postgres.
func rebindDollar(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- MailboxStore ---

func (s *SQLStore) SaveMailbox(ctx context.Context, mb *core.Mailbox) error {
	_, err := s.exec(ctx, `
		DELETE FROM mailboxes WHERE id = ?
	`, mb.ID.String())
	if err != nil {
		return fmt.Errorf("failed to clear mailbox row: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO mailboxes (id, owner, provider, credential_handle, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, mb.ID.String(), mb.Owner, mb.Provider, mb.CredentialHandle, string(mb.Status), formatTime(mb.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert mailbox: %w", err)
	}
	return nil
}

func (s *SQLStore) scanMailbox(row interface{ Scan(...any) error }) (*core.Mailbox, error) {
	var id, owner, provider, handle, status, createdAt string
	if err := row.Scan(&id, &owner, &provider, &handle, &status, &createdAt); err != nil {
		return nil, err
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mailbox id: %w", err)
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mailbox created_at: %w", err)
	}
	return &core.Mailbox{
		ID:               parsedID,
		Owner:            owner,
		Provider:         provider,
		CredentialHandle: handle,
		Status:           core.MailboxStatus(status),
		CreatedAt:        created,
	}, nil
}

func (s *SQLStore) GetMailbox(ctx context.Context, id uuid.UUID) (*core.Mailbox, error) {
	row := s.queryRow(ctx, `
		SELECT id, owner, provider, credential_handle, status, created_at
		FROM mailboxes WHERE id = ?
	`, id.String())
	mb, err := s.scanMailbox(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query mailbox: %w", err)
	}
	return mb, nil
}

func (s *SQLStore) ListMailboxes(ctx context.Context, status core.MailboxStatus) ([]*core.Mailbox, error) {
	rows, err := s.query(ctx, `
		SELECT id, owner, provider, credential_handle, status, created_at
		FROM mailboxes WHERE status = ? ORDER BY created_at
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}
	defer rows.Close()

	var out []*core.Mailbox
	for rows.Next() {
		mb, err := s.scanMailbox(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mailbox: %w", err)
		}
		out = append(out, mb)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateMailboxStatus(ctx context.Context, id uuid.UUID, status core.MailboxStatus) error {
	res, err := s.exec(ctx, `
		UPDATE mailboxes SET status = ? WHERE id = ?
	`, string(status), id.String())
	if err != nil {
		return fmt.Errorf("failed to update mailbox status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// --- CursorStore ---

func (s *SQLStore) ResumePoint(ctx context.Context, mailboxID uuid.UUID) (core.SyncCursor, error) {
	var cur core.SyncCursor
	err := s.queryRow(ctx, `
		SELECT position FROM sync_cursors WHERE mailbox_id = ?
	`, mailboxID.String()).Scan(&cur.Position)
	if err != nil && err != sql.ErrNoRows {
		return core.SyncCursor{}, fmt.Errorf("failed to query cursor: %w", err)
	}

	rows, err := s.query(ctx, `
		SELECT provider_id FROM inflight_messages WHERE mailbox_id = ? ORDER BY staged_at
	`, mailboxID.String())
	if err != nil {
		return core.SyncCursor{}, fmt.Errorf("failed to query in-flight ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return core.SyncCursor{}, fmt.Errorf("failed to scan in-flight id: %w", err)
		}
		cur.InFlight = append(cur.InFlight, id)
	}
	return cur, rows.Err()
}

func (s *SQLStore) StageInFlight(ctx context.Context, mailboxID uuid.UUID, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin staging transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`
		DELETE FROM inflight_messages WHERE mailbox_id = ?
	`), mailboxID.String()); err != nil {
		return fmt.Errorf("failed to clear in-flight set: %w", err)
	}
	now := formatTime(time.Now())
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO inflight_messages (mailbox_id, provider_id, staged_at)
			VALUES (?, ?, ?)
		`), mailboxID.String(), id, now); err != nil {
			return fmt.Errorf("failed to stage in-flight id: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Advance(ctx context.Context, mailboxID uuid.UUID, cursor core.SyncCursor, committed []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin advance transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range committed {
		if _, err := tx.ExecContext(ctx, s.rebind(`
			DELETE FROM committed_messages WHERE mailbox_id = ? AND provider_id = ?
		`), mailboxID.String(), id); err != nil {
			return fmt.Errorf("failed to clear committed id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO committed_messages (mailbox_id, provider_id) VALUES (?, ?)
		`), mailboxID.String(), id); err != nil {
			return fmt.Errorf("failed to record committed id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			DELETE FROM inflight_messages WHERE mailbox_id = ? AND provider_id = ?
		`), mailboxID.String(), id); err != nil {
			return fmt.Errorf("failed to clear in-flight id: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`
		DELETE FROM sync_cursors WHERE mailbox_id = ?
	`), mailboxID.String()); err != nil {
		return fmt.Errorf("failed to clear cursor: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO sync_cursors (mailbox_id, position) VALUES (?, ?)
	`), mailboxID.String(), cursor.Position); err != nil {
		return fmt.Errorf("failed to persist cursor: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) Committed(ctx context.Context, mailboxID uuid.UUID, providerID string) (bool, error) {
	var one int
	err := s.queryRow(ctx, `
		SELECT 1 FROM committed_messages WHERE mailbox_id = ? AND provider_id = ?
	`, mailboxID.String(), providerID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query committed id: %w", err)
	}
	return true, nil
}

// --- MessageStore ---

func (s *SQLStore) SaveMessage(ctx context.Context, msg *core.RawMessage) error {
	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}
	var exists int
	err = s.queryRow(ctx, `
		SELECT 1 FROM messages WHERE mailbox_id = ? AND provider_id = ?
	`, msg.MailboxID.String(), msg.ProviderID).Scan(&exists)
	if err == nil {
		// Content is immutable; only refresh status bookkeeping.
		_, err = s.exec(ctx, `
			UPDATE messages SET status = ?, fetched_at = ?
			WHERE mailbox_id = ? AND provider_id = ?
		`, string(msg.Status), formatTime(msg.FetchedAt), msg.MailboxID.String(), msg.ProviderID)
		if err != nil {
			return fmt.Errorf("failed to refresh message: %w", err)
		}
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to probe message: %w", err)
	}

	_, err = s.exec(ctx, `
		INSERT INTO messages
			(mailbox_id, provider_id, from_addr, subject, snippet, body, headers, internal_date, fetched_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.MailboxID.String(), msg.ProviderID, msg.From, msg.Subject, msg.Snippet, msg.Body,
		string(headers), formatTime(msg.InternalDate), formatTime(msg.FetchedAt), string(msg.Status))
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *SQLStore) scanMessage(row interface{ Scan(...any) error }) (*core.RawMessage, error) {
	var mailboxID, providerID, from, subject, snippet, body, headers, internalDate, fetchedAt, status string
	if err := row.Scan(&mailboxID, &providerID, &from, &subject, &snippet, &body, &headers, &internalDate, &fetchedAt, &status); err != nil {
		return nil, err
	}
	mbID, err := uuid.Parse(mailboxID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mailbox id: %w", err)
	}
	internal, err := parseTime(internalDate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse internal_date: %w", err)
	}
	fetched, err := parseTime(fetchedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fetched_at: %w", err)
	}
	var hdrs map[string]string
	if err := json.Unmarshal([]byte(headers), &hdrs); err != nil {
		return nil, fmt.Errorf("failed to decode headers: %w", err)
	}
	return &core.RawMessage{
		MailboxID:    mbID,
		ProviderID:   providerID,
		From:         from,
		Subject:      subject,
		Snippet:      snippet,
		Body:         body,
		Headers:      hdrs,
		InternalDate: internal,
		FetchedAt:    fetched,
		Status:       core.MessageStatus(status),
	}, nil
}

const messageColumns = `mailbox_id, provider_id, from_addr, subject, snippet, body, headers, internal_date, fetched_at, status`

func (s *SQLStore) GetMessage(ctx context.Context, mailboxID uuid.UUID, providerID string) (*core.RawMessage, error) {
	row := s.queryRow(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE mailbox_id = ? AND provider_id = ?
	`, mailboxID.String(), providerID)
	msg, err := s.scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return msg, nil
}

func (s *SQLStore) UpdateMessageStatus(ctx context.Context, mailboxID uuid.UUID, providerID string, status core.MessageStatus) error {
	res, err := s.exec(ctx, `
		UPDATE messages SET status = ? WHERE mailbox_id = ? AND provider_id = ?
	`, string(status), mailboxID.String(), providerID)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListMessagesByStatus(ctx context.Context, mailboxID uuid.UUID, status core.MessageStatus, limit int) ([]*core.RawMessage, error) {
	q := `SELECT ` + messageColumns + ` FROM messages WHERE mailbox_id = ? AND status = ? ORDER BY internal_date`
	args := []any{mailboxID.String(), string(status)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*core.RawMessage
	for rows.Next() {
		msg, err := s.scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// --- RecordStore ---

func (s *SQLStore) SaveRecord(ctx context.Context, rec *core.ExtractedRecord) error {
	_, err := s.exec(ctx, `
		DELETE FROM records WHERE id = ?
	`, rec.ID.String())
	if err != nil {
		return fmt.Errorf("failed to clear record row: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO records
			(id, mailbox_id, message_id, kind, merchant, amount, has_amount, currency, date,
			 category, is_recurring, trial_end, renewal_date,
			 conf_merchant, conf_amount, conf_date, confidence, method, extracted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID.String(), rec.MailboxID.String(), rec.MessageID, string(rec.Kind), rec.Merchant,
		rec.Amount.String(), rec.HasAmount, rec.Currency, formatTime(rec.Date),
		rec.Category, rec.IsRecurring, formatTimePtr(rec.TrialEnd), formatTimePtr(rec.RenewalDate),
		rec.Fields.Merchant, rec.Fields.Amount, rec.Fields.Date, rec.Confidence,
		string(rec.Method), formatTime(rec.ExtractedAt))
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (s *SQLStore) scanRecord(row interface{ Scan(...any) error }) (*core.ExtractedRecord, error) {
	var id, mailboxID, messageID, kind, merchant, amount, currency, date, category, method, extractedAt string
	var hasAmount, isRecurring bool
	var trialEnd, renewalDate sql.NullString
	var confMerchant, confAmount, confDate, confidence float64
	if err := row.Scan(&id, &mailboxID, &messageID, &kind, &merchant, &amount, &hasAmount, &currency, &date,
		&category, &isRecurring, &trialEnd, &renewalDate,
		&confMerchant, &confAmount, &confDate, &confidence, &method, &extractedAt); err != nil {
		return nil, err
	}

	recID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse record id: %w", err)
	}
	mbID, err := uuid.Parse(mailboxID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mailbox id: %w", err)
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse record amount: %w", err)
	}
	d, err := parseTime(date)
	if err != nil {
		return nil, fmt.Errorf("failed to parse record date: %w", err)
	}
	extracted, err := parseTime(extractedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse extracted_at: %w", err)
	}
	trial, err := parseTimePtr(trialEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to parse trial_end: %w", err)
	}
	renewal, err := parseTimePtr(renewalDate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse renewal_date: %w", err)
	}

	return &core.ExtractedRecord{
		ID:          recID,
		MailboxID:   mbID,
		MessageID:   messageID,
		Kind:        core.RecordKind(kind),
		Merchant:    merchant,
		Amount:      amt,
		HasAmount:   hasAmount,
		Currency:    currency,
		Date:        d,
		Category:    category,
		IsRecurring: isRecurring,
		TrialEnd:    trial,
		RenewalDate: renewal,
		Fields:      core.FieldConfidence{Merchant: confMerchant, Amount: confAmount, Date: confDate},
		Confidence:  confidence,
		Method:      core.ExtractionMethod(method),
		ExtractedAt: extracted,
	}, nil
}

const recordColumns = `id, mailbox_id, message_id, kind, merchant, amount, has_amount, currency, date,
	category, is_recurring, trial_end, renewal_date,
	conf_merchant, conf_amount, conf_date, confidence, method, extracted_at`

func (s *SQLStore) ListRecordsByIDs(ctx context.Context, ids []uuid.UUID) ([]*core.ExtractedRecord, error) {
	out := make([]*core.ExtractedRecord, 0, len(ids))
	for _, id := range ids {
		row := s.queryRow(ctx, `
			SELECT `+recordColumns+` FROM records WHERE id = ?
		`, id.String())
		rec, err := s.scanRecord(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// --- FactStore ---

func (s *SQLStore) SaveFact(ctx context.Context, fact *core.FinancialFact) error {
	provenance, err := json.Marshal(fact.Provenance)
	if err != nil {
		return fmt.Errorf("failed to encode provenance: %w", err)
	}
	contributors, err := json.Marshal(fact.Contributors)
	if err != nil {
		return fmt.Errorf("failed to encode contributors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin fact transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`
		DELETE FROM facts WHERE fact_key = ?
	`), fact.Key); err != nil {
		return fmt.Errorf("failed to clear fact row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO facts
			(fact_key, id, merchant_key, kind, merchant, amount, currency, date, category,
			 recurrence_days, next_renewal, trial_end, provenance, contributors, revision,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), fact.Key, fact.ID.String(), fact.MerchantKey, string(fact.Kind), fact.Merchant,
		fact.Amount.String(), fact.Currency, formatTime(fact.Date), fact.Category,
		fact.RecurrenceDays, formatTimePtr(fact.NextRenewal), formatTimePtr(fact.TrialEnd),
		string(provenance), string(contributors), fact.Revision,
		formatTime(fact.CreatedAt), formatTime(fact.UpdatedAt)); err != nil {
		return fmt.Errorf("failed to insert fact: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) scanFact(row interface{ Scan(...any) error }) (*core.FinancialFact, error) {
	var key, id, merchantKey, kind, merchant, amount, currency, date, category string
	var provenance, contributors, createdAt, updatedAt string
	var nextRenewal, trialEnd sql.NullString
	var recurrenceDays, revision int
	if err := row.Scan(&key, &id, &merchantKey, &kind, &merchant, &amount, &currency, &date, &category,
		&recurrenceDays, &nextRenewal, &trialEnd, &provenance, &contributors, &revision,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	factID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fact id: %w", err)
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fact amount: %w", err)
	}
	d, err := parseTime(date)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fact date: %w", err)
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fact created_at: %w", err)
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fact updated_at: %w", err)
	}
	renewal, err := parseTimePtr(nextRenewal)
	if err != nil {
		return nil, fmt.Errorf("failed to parse next_renewal: %w", err)
	}
	trial, err := parseTimePtr(trialEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to parse trial_end: %w", err)
	}
	var prov core.FactProvenance
	if err := json.Unmarshal([]byte(provenance), &prov); err != nil {
		return nil, fmt.Errorf("failed to decode provenance: %w", err)
	}
	var contribs []uuid.UUID
	if err := json.Unmarshal([]byte(contributors), &contribs); err != nil {
		return nil, fmt.Errorf("failed to decode contributors: %w", err)
	}

	return &core.FinancialFact{
		ID:             factID,
		Key:            key,
		MerchantKey:    merchantKey,
		Kind:           core.RecordKind(kind),
		Merchant:       merchant,
		Amount:         amt,
		Currency:       currency,
		Date:           d,
		Category:       category,
		RecurrenceDays: recurrenceDays,
		NextRenewal:    renewal,
		TrialEnd:       trial,
		Provenance:     prov,
		Contributors:   contribs,
		Revision:       revision,
		CreatedAt:      created,
		UpdatedAt:      updated,
	}, nil
}

const factColumns = `fact_key, id, merchant_key, kind, merchant, amount, currency, date, category,
	recurrence_days, next_renewal, trial_end, provenance, contributors, revision,
	created_at, updated_at`

func (s *SQLStore) GetFact(ctx context.Context, id uuid.UUID) (*core.FinancialFact, error) {
	row := s.queryRow(ctx, `
		SELECT `+factColumns+` FROM facts WHERE id = ?
	`, id.String())
	fact, err := s.scanFact(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query fact: %w", err)
	}
	return fact, nil
}

func (s *SQLStore) GetFactByKey(ctx context.Context, key string) (*core.FinancialFact, error) {
	row := s.queryRow(ctx, `
		SELECT `+factColumns+` FROM facts WHERE fact_key = ?
	`, key)
	fact, err := s.scanFact(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query fact by key: %w", err)
	}
	return fact, nil
}

func (s *SQLStore) FindFactsByPrefix(ctx context.Context, prefix string) ([]*core.FinancialFact, error) {
	rows, err := s.query(ctx, `
		SELECT `+factColumns+` FROM facts WHERE fact_key LIKE ? ESCAPE '!' ORDER BY date
	`, escapeLike(prefix)+"|%")
	if err != nil {
		return nil, fmt.Errorf("failed to query facts by prefix: %w", err)
	}
	defer rows.Close()
	return s.collectFacts(rows)
}

func (s *SQLStore) ListFactsByMerchant(ctx context.Context, merchantKey string) ([]*core.FinancialFact, error) {
	rows, err := s.query(ctx, `
		SELECT `+factColumns+` FROM facts WHERE merchant_key = ? ORDER BY date
	`, merchantKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query facts by merchant: %w", err)
	}
	defer rows.Close()
	return s.collectFacts(rows)
}

func (s *SQLStore) collectFacts(rows *sql.Rows) ([]*core.FinancialFact, error) {
	var out []*core.FinancialFact
	for rows.Next() {
		fact, err := s.scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		out = append(out, fact)
	}
	return out, rows.Err()
}

// escapeLike protects LIKE metacharacters in a literal prefix. The escape
// character is "!" because a backslash inside a string literal is itself an
// escape under MySQL's default sql_mode.
func escapeLike(v string) string {
	v = strings.ReplaceAll(v, `!`, `!!`)
	v = strings.ReplaceAll(v, `%`, `!%`)
	return strings.ReplaceAll(v, `_`, `!_`)
}

// --- AlertStore ---

func (s *SQLStore) SaveAlert(ctx context.Context, ev *core.AlertEvent) error {
	_, err := s.exec(ctx, `
		DELETE FROM alerts WHERE id = ?
	`, ev.ID.String())
	if err != nil {
		return fmt.Errorf("failed to clear alert row: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO alerts (id, fact_id, fact_revision, kind, trigger_at, status, title, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID.String(), ev.FactID.String(), ev.FactRevision, string(ev.Kind),
		formatTime(ev.TriggerAt), string(ev.Status), ev.Title, ev.Body, formatTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (s *SQLStore) scanAlert(row interface{ Scan(...any) error }) (*core.AlertEvent, error) {
	var id, factID, kind, triggerAt, status, title, body, createdAt string
	var revision int
	if err := row.Scan(&id, &factID, &revision, &kind, &triggerAt, &status, &title, &body, &createdAt); err != nil {
		return nil, err
	}
	evID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse alert id: %w", err)
	}
	fID, err := uuid.Parse(factID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse alert fact id: %w", err)
	}
	trigger, err := parseTime(triggerAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse trigger_at: %w", err)
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse alert created_at: %w", err)
	}
	return &core.AlertEvent{
		ID:           evID,
		FactID:       fID,
		FactRevision: revision,
		Kind:         core.AlertKind(kind),
		TriggerAt:    trigger,
		Status:       core.AlertStatus(status),
		Title:        title,
		Body:         body,
		CreatedAt:    created,
	}, nil
}

const alertColumns = `id, fact_id, fact_revision, kind, trigger_at, status, title, body, created_at`

func (s *SQLStore) GetAlert(ctx context.Context, id uuid.UUID) (*core.AlertEvent, error) {
	row := s.queryRow(ctx, `
		SELECT `+alertColumns+` FROM alerts WHERE id = ?
	`, id.String())
	ev, err := s.scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query alert: %w", err)
	}
	return ev, nil
}

func (s *SQLStore) UpdateAlertStatus(ctx context.Context, id uuid.UUID, status core.AlertStatus) error {
	res, err := s.exec(ctx, `
		UPDATE alerts SET status = ? WHERE id = ?
	`, string(status), id.String())
	if err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListAlertsByFact(ctx context.Context, factID uuid.UUID, status core.AlertStatus) ([]*core.AlertEvent, error) {
	rows, err := s.query(ctx, `
		SELECT `+alertColumns+` FROM alerts WHERE fact_id = ? AND status = ? ORDER BY trigger_at
	`, factID.String(), string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()
	return s.collectAlerts(rows)
}

func (s *SQLStore) FindAlert(ctx context.Context, factID uuid.UUID, revision int, kind core.AlertKind) (*core.AlertEvent, error) {
	row := s.queryRow(ctx, `
		SELECT `+alertColumns+` FROM alerts WHERE fact_id = ? AND fact_revision = ? AND kind = ?
	`, factID.String(), revision, string(kind))
	ev, err := s.scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find alert: %w", err)
	}
	return ev, nil
}

func (s *SQLStore) ListDueAlerts(ctx context.Context, now time.Time) ([]*core.AlertEvent, error) {
	rows, err := s.query(ctx, `
		SELECT `+alertColumns+` FROM alerts WHERE status = ? AND trigger_at <= ? ORDER BY trigger_at
	`, string(core.AlertScheduled), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list due alerts: %w", err)
	}
	defer rows.Close()
	return s.collectAlerts(rows)
}

func (s *SQLStore) collectAlerts(rows *sql.Rows) ([]*core.AlertEvent, error) {
	var out []*core.AlertEvent
	for rows.Next() {
		ev, err := s.scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// --- DraftStore ---

func (s *SQLStore) SaveDraft(ctx context.Context, d *core.DraftEmail) error {
	_, err := s.exec(ctx, `
		DELETE FROM drafts WHERE id = ?
	`, d.ID.String())
	if err != nil {
		return fmt.Errorf("failed to clear draft row: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO drafts (id, fact_id, action, to_address, subject, body, tone, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID.String(), d.FactID.String(), d.Action, d.ToAddress, d.Subject, d.Body,
		d.Tone, string(d.Status), formatTime(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert draft: %w", err)
	}
	return nil
}

func (s *SQLStore) GetDraft(ctx context.Context, id uuid.UUID) (*core.DraftEmail, error) {
	var did, factID, action, toAddress, subject, body, tone, status, createdAt string
	err := s.queryRow(ctx, `
		SELECT id, fact_id, action, to_address, subject, body, tone, status, created_at
		FROM drafts WHERE id = ?
	`, id.String()).Scan(&did, &factID, &action, &toAddress, &subject, &body, &tone, &status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query draft: %w", err)
	}
	draftID, err := uuid.Parse(did)
	if err != nil {
		return nil, fmt.Errorf("failed to parse draft id: %w", err)
	}
	fID, err := uuid.Parse(factID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse draft fact id: %w", err)
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse draft created_at: %w", err)
	}
	return &core.DraftEmail{
		ID:        draftID,
		FactID:    fID,
		Action:    action,
		ToAddress: toAddress,
		Subject:   subject,
		Body:      body,
		Tone:      tone,
		Status:    core.DraftStatus(status),
		CreatedAt: created,
	}, nil
}

func (s *SQLStore) UpdateDraftStatus(ctx context.Context, id uuid.UUID, status core.DraftStatus) error {
	res, err := s.exec(ctx, `
		UPDATE drafts SET status = ? WHERE id = ?
	`, string(status), id.String())
	if err != nil {
		return fmt.Errorf("failed to update draft status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}
