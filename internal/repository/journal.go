package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const defaultJournalPageSize = 50

const journalColumns = `id, seq, from_account_id, to_account_id, from_user_id, to_user_id, amount, currency, kind, status,
	fee, description, reference_id, external_provider, external_ref, metadata, created_at, updated_at, finalized_at`

func scanJournalEntry(row pgx.Row) (*models.JournalEntry, error) {
	e := &models.JournalEntry{}
	var reference *string
	var metadata []byte
	err := row.Scan(
		&e.ID, &e.Seq, &e.FromAccountID, &e.ToAccountID, &e.FromUserID, &e.ToUserID,
		&e.Amount, &e.Currency, &e.Kind, &e.Status, &e.Fee, &e.Description, &reference,
		&e.ExternalProvider, &e.ExternalRef, &metadata, &e.CreatedAt, &e.UpdatedAt, &e.FinalizedAt,
	)
	if err != nil {
		return nil, err
	}
	if reference != nil {
		e.ReferenceID = *reference
	}
	if len(metadata) > 0 {
		e.Metadata = metadata
	}
	return e, nil
}

func collectJournalEntries(rows pgx.Rows) ([]models.JournalEntry, error) {
	defer rows.Close()
	var entries []models.JournalEntry
	for rows.Next() {
		e, err := scanJournalEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func nullableText(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (q *Queries) InsertJournalEntry(ctx context.Context, e *models.JournalEntry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		metadata = e.Metadata
	}
	query := `
		INSERT INTO journal_entries (
			id, from_account_id, to_account_id, from_user_id, to_user_id, amount, currency, kind, status,
			fee, description, reference_id, external_provider, external_ref, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
		RETURNING seq, created_at, updated_at`
	err := q.db.QueryRow(ctx, query,
		e.ID, e.FromAccountID, e.ToAccountID, e.FromUserID, e.ToUserID, e.Amount, e.Currency, e.Kind, e.Status,
		e.Fee, e.Description, nullableText(e.ReferenceID), e.ExternalProvider, e.ExternalRef, metadata,
	).Scan(&e.Seq, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}
	return nil
}

func (q *Queries) GetJournalEntry(ctx context.Context, id uuid.UUID) (*models.JournalEntry, error) {
	e, err := scanJournalEntry(q.db.QueryRow(ctx, `SELECT `+journalColumns+` FROM journal_entries WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "journal entry "+id.String())
	}
	return e, nil
}

func (q *Queries) GetJournalEntryForUpdate(ctx context.Context, id uuid.UUID) (*models.JournalEntry, error) {
	e, err := scanJournalEntry(q.db.QueryRow(ctx, `SELECT `+journalColumns+` FROM journal_entries WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "journal entry "+id.String())
	}
	return e, nil
}

func (q *Queries) GetJournalEntryByReference(ctx context.Context, referenceID string) (*models.JournalEntry, error) {
	e, err := scanJournalEntry(q.db.QueryRow(ctx, `SELECT `+journalColumns+` FROM journal_entries WHERE reference_id = $1`, referenceID))
	if err != nil {
		return nil, notFound(err, "journal entry with reference "+referenceID)
	}
	return e, nil
}

func (q *Queries) FinalizeJournalEntry(ctx context.Context, id uuid.UUID, status string) (*models.JournalEntry, error) {
	e, err := scanJournalEntry(q.db.QueryRow(ctx, `
		UPDATE journal_entries
		SET status = $1, seq = nextval('journal_seq'), updated_at = NOW(), finalized_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING `+journalColumns, status, id, domain.StatusPending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("finalize journal entry %s: %w", id, domain.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("failed to finalize journal entry: %w", err)
	}
	return e, nil
}

func (q *Queries) SetJournalExternalRef(ctx context.Context, id uuid.UUID, externalRef string) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE journal_entries SET external_ref = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`, externalRef, id, domain.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to set external ref: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ListJournalEntries(ctx context.Context, f JournalFilter) ([]models.JournalEntry, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.AccountID != nil {
		add("(from_account_id = $%[1]d OR to_account_id = $%[1]d)", *f.AccountID)
	}
	if f.UserID != nil {
		add("(from_user_id = $%[1]d OR to_user_id = $%[1]d)", *f.UserID)
	}
	if f.Currency != "" {
		add("currency = $%d", f.Currency)
	}
	if len(f.Kinds) > 0 {
		add("kind = ANY($%d)", f.Kinds)
	}
	if len(f.Statuses) > 0 {
		add("status = ANY($%d)", f.Statuses)
	}
	if f.BeforeSeq > 0 {
		add("seq < $%d", f.BeforeSeq)
	}

	query := `SELECT ` + journalColumns + ` FROM journal_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultJournalPageSize
	}
	args = append(args, limit, max(f.Offset, 0))
	query += fmt.Sprintf(" ORDER BY seq DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	return collectJournalEntries(rows)
}

func (q *Queries) ListPendingExternalEntries(ctx context.Context, afterSeq int64, limit int32) ([]models.JournalEntry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+journalColumns+`
		FROM journal_entries
		WHERE status = $1 AND kind = ANY($2) AND external_provider <> '' AND seq > $3
		ORDER BY seq
		LIMIT $4`, domain.StatusPending, []string{domain.KindDeposit, domain.KindWithdrawal}, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending external entries: %w", err)
	}
	return collectJournalEntries(rows)
}

func (q *Queries) CountPendingExternalByAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM journal_entries
		WHERE status = $1 AND kind = ANY($2) AND external_provider <> ''
		  AND (from_account_id = $3 OR to_account_id = $3)`,
		domain.StatusPending, []string{domain.KindDeposit, domain.KindWithdrawal}, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending external entries: %w", err)
	}
	return n, nil
}

func (q *Queries) SumOutgoingSince(ctx context.Context, accountID uuid.UUID, kind string, since time.Time) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::BIGINT
		FROM journal_entries
		WHERE from_account_id = $1 AND kind = $2 AND status = $3 AND finalized_at >= $4`,
		accountID, kind, domain.StatusCompleted, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum outgoing entries: %w", err)
	}
	return total, nil
}

func (q *Queries) SumJournalByKind(ctx context.Context) ([]JournalTotal, error) {
	rows, err := q.db.Query(ctx, `
		SELECT currency, kind, status, COUNT(*), COALESCE(SUM(amount), 0)::BIGINT, COALESCE(SUM(fee), 0)::BIGINT
		FROM journal_entries
		GROUP BY currency, kind, status
		ORDER BY currency, kind, status`)
	if err != nil {
		return nil, fmt.Errorf("failed to sum journal entries: %w", err)
	}
	defer rows.Close()

	var totals []JournalTotal
	for rows.Next() {
		var t JournalTotal
		if err := rows.Scan(&t.Currency, &t.Kind, &t.Status, &t.Entries, &t.Amount, &t.Fee); err != nil {
			return nil, fmt.Errorf("failed to scan journal totals: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}
