package casegraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/enikshay/casetools/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGStore reads and updates the case graph stored in PostgreSQL.
type PGStore struct{ pool *pgxpool.Pool }

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

const caseCols = `domain, case_id, type, closed, deleted, owner_id,
	opened_on, closed_on, modified_on, properties`

const caseColsAliased = `c.domain, c.case_id, c.type, c.closed, c.deleted, c.owner_id,
	c.opened_on, c.closed_on, c.modified_on, c.properties`

func scanCase(row pgx.Row) (*Case, error) {
	var c Case
	var props []byte
	err := row.Scan(&c.Domain, &c.CaseID, &c.Type, &c.Closed, &c.Deleted, &c.OwnerID,
		&c.OpenedOn, &c.ClosedOn, &c.ModifiedOn, &props)
	if err != nil {
		return nil, err
	}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &c.Properties); err != nil {
			return nil, fmt.Errorf("decode properties of case %s: %w", c.CaseID, err)
		}
	}
	return &c, nil
}

func (s *PGStore) collect(ctx context.Context, domain string, rows pgx.Rows) ([]*Case, error) {
	defer rows.Close()
	var out []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachIndices(ctx, domain, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PGStore) attachIndices(ctx context.Context, domain string, cases []*Case) error {
	if len(cases) == 0 {
		return nil
	}
	byID := make(map[string]*Case, len(cases))
	for _, c := range cases {
		byID[c.CaseID] = c
	}
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT case_id, identifier, referenced_id, referenced_type, relationship
		FROM case_indices
		WHERE domain = $1 AND case_id = ANY($2)
		ORDER BY case_id, position`, domain, IDs(cases))
	if err != nil {
		return fmt.Errorf("query case indices: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var caseID string
		var idx Index
		if err := rows.Scan(&caseID, &idx.Identifier, &idx.ReferencedID, &idx.ReferencedType, &idx.Relationship); err != nil {
			return fmt.Errorf("scan case index: %w", err)
		}
		if c, ok := byID[caseID]; ok {
			c.Indices = append(c.Indices, idx)
		}
	}
	return rows.Err()
}

func (s *PGStore) GetCase(ctx context.Context, domain, caseID string) (*Case, error) {
	c, err := scanCase(s.conn(ctx).QueryRow(ctx,
		`SELECT `+caseCols+` FROM cases WHERE domain = $1 AND case_id = $2 AND NOT deleted`,
		domain, caseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFound(caseID, "couldn't find case: %s", caseID)
	}
	if err != nil {
		return nil, fmt.Errorf("get case %s: %w", caseID, err)
	}
	if err := s.attachIndices(ctx, domain, []*Case{c}); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PGStore) GetCases(ctx context.Context, domain string, caseIDs []string) ([]*Case, error) {
	if len(caseIDs) == 0 {
		return nil, nil
	}
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+caseCols+` FROM cases WHERE domain = $1 AND case_id = ANY($2) AND NOT deleted`,
		domain, caseIDs)
	if err != nil {
		return nil, fmt.Errorf("get cases: %w", err)
	}
	found, err := s.collect(ctx, domain, rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Case, len(found))
	for _, c := range found {
		byID[c.CaseID] = c
	}
	out := make([]*Case, 0, len(found))
	for _, id := range caseIDs {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *PGStore) GetReverseIndexedCases(ctx context.Context, domain string, caseIDs []string, q ReverseQuery) ([]*Case, error) {
	if len(caseIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + caseColsAliased + ` FROM cases c
		WHERE c.domain = $1 AND NOT c.deleted
		AND EXISTS (SELECT 1 FROM case_indices i
			WHERE i.domain = c.domain AND i.case_id = c.case_id AND i.referenced_id = ANY($2))`
	args := []interface{}{domain, caseIDs}
	if len(q.CaseTypes) > 0 {
		args = append(args, q.CaseTypes)
		query += fmt.Sprintf(" AND c.type = ANY($%d)", len(args))
	}
	if q.Closed != nil {
		args = append(args, *q.Closed)
		query += fmt.Sprintf(" AND c.closed = $%d", len(args))
	}
	query += " ORDER BY c.opened_on, c.case_id"

	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get reverse indexed cases: %w", err)
	}
	return s.collect(ctx, domain, rows)
}

func (s *PGStore) CaseIDsByType(ctx context.Context, domain, caseType string, openOnly bool) ([]string, error) {
	query := `SELECT case_id FROM cases WHERE domain = $1 AND type = $2 AND NOT deleted`
	if openOnly {
		query += ` AND NOT closed`
	}
	query += ` ORDER BY case_id`
	rows, err := s.conn(ctx).Query(ctx, query, domain, caseType)
	if err != nil {
		return nil, fmt.Errorf("list %s case ids: %w", caseType, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// BulkUpdateCases applies all updates in one transaction and logs each one to
// case_update_log under sourceTag. A missing case aborts the whole batch.
func (s *PGStore) BulkUpdateCases(ctx context.Context, domain string, updates []UpdateInstruction, sourceTag string) error {
	if len(updates) == 0 {
		return nil
	}
	return db.InTx(ctx, s.pool, func(ctx context.Context) error {
		q := s.conn(ctx)
		now := time.Now().UTC()
		for _, u := range updates {
			changes := u.Properties
			if changes == nil {
				changes = map[string]string{}
			}
			props, err := json.Marshal(changes)
			if err != nil {
				return fmt.Errorf("encode update for %s: %w", u.CaseID, err)
			}
			tag, err := q.Exec(ctx, `
				UPDATE cases SET
					properties = properties || $3::jsonb,
					modified_on = $4,
					closed = closed OR $5,
					closed_on = CASE WHEN $5 AND NOT closed THEN $4 ELSE closed_on END
				WHERE domain = $1 AND case_id = $2 AND NOT deleted`,
				domain, u.CaseID, props, now, u.Close)
			if err != nil {
				return fmt.Errorf("update case %s: %w", u.CaseID, err)
			}
			if tag.RowsAffected() == 0 {
				return NotFound(u.CaseID, "couldn't find case: %s", u.CaseID)
			}
			if _, err := q.Exec(ctx, `
				INSERT INTO case_update_log (domain, case_id, source_tag, properties, closed, applied_at)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				domain, u.CaseID, sourceTag, props, u.Close, now); err != nil {
				return fmt.Errorf("log update for %s: %w", u.CaseID, err)
			}
		}
		return nil
	})
}

// Insert writes c and its indices, replacing any existing row. Used by fixture
// loading and tests against a live database.
func (s *PGStore) Insert(ctx context.Context, cases ...*Case) error {
	return db.InTx(ctx, s.pool, func(ctx context.Context) error {
		q := s.conn(ctx)
		for _, c := range cases {
			props, err := json.Marshal(c.Properties)
			if err != nil {
				return fmt.Errorf("encode properties of %s: %w", c.CaseID, err)
			}
			modified := c.ModifiedOn
			if modified.IsZero() {
				modified = c.OpenedOn
			}
			if _, err := q.Exec(ctx, `
				INSERT INTO cases (`+caseCols+`)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
				ON CONFLICT (domain, case_id) DO UPDATE SET
					type = EXCLUDED.type, closed = EXCLUDED.closed, deleted = EXCLUDED.deleted,
					owner_id = EXCLUDED.owner_id, opened_on = EXCLUDED.opened_on,
					closed_on = EXCLUDED.closed_on, modified_on = EXCLUDED.modified_on,
					properties = EXCLUDED.properties`,
				c.Domain, c.CaseID, c.Type, c.Closed, c.Deleted, c.OwnerID,
				c.OpenedOn, c.ClosedOn, modified, props); err != nil {
				return fmt.Errorf("insert case %s: %w", c.CaseID, err)
			}
			if _, err := q.Exec(ctx, `DELETE FROM case_indices WHERE domain = $1 AND case_id = $2`,
				c.Domain, c.CaseID); err != nil {
				return fmt.Errorf("clear indices of %s: %w", c.CaseID, err)
			}
			for i, idx := range c.Indices {
				rel := idx.Relationship
				if rel == "" {
					rel = RelationshipChild
				}
				if _, err := q.Exec(ctx, `
					INSERT INTO case_indices (domain, case_id, position, identifier, referenced_id, referenced_type, relationship)
					VALUES ($1,$2,$3,$4,$5,$6,$7)`,
					c.Domain, c.CaseID, i, idx.Identifier, idx.ReferencedID, idx.ReferencedType, rel); err != nil {
					return fmt.Errorf("insert index of %s: %w", c.CaseID, err)
				}
			}
		}
		return nil
	})
}
