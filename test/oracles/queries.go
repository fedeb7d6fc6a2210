// Package oracles holds SQL invariant checks run against the live database
// while actors hammer it. Every query returns rows only when an invariant is
// violated; an empty result set means the system is consistent.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_accepted_proposal",
			SQL: `SELECT job_id, COUNT(*) FROM proposals
                  WHERE status = 'accepted'
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_single_escrow_per_job",
			SQL: `SELECT job_id, COUNT(*) FROM escrows
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_settled_escrow_has_ref",
			SQL: `SELECT id, status FROM escrows
                  WHERE (status IN ('funded','released','refunded','disputed') AND fund_ref IS NULL)
                     OR (status = 'released' AND release_ref IS NULL)
                     OR (status = 'refunded' AND refund_ref IS NULL)
                     OR (status = 'resolved' AND (release_ref IS NULL OR refund_ref IS NULL))`,
		},
		{
			Name: "O4_double_settlement",
			SQL: `SELECT id, status FROM escrows
                  WHERE release_ref IS NOT NULL AND refund_ref IS NOT NULL
                    AND status <> 'resolved'`,
		},
		{
			Name: "O5_job_escrow_consistency",
			SQL: `SELECT j.id, j.status, e.status FROM jobs j
                  JOIN escrows e ON e.job_id = j.id
                  WHERE (j.status = 'completed' AND e.status NOT IN ('released','resolved'))
                     OR (e.status IN ('released','resolved') AND j.status <> 'completed')
                     OR (e.status = 'refunded' AND j.status <> 'cancelled')
                     OR (j.status = 'accepted' AND e.status NOT IN ('pending_funding'))
                     OR (e.status IN ('funded','disputed') AND j.status <> 'in_progress')`,
		},
		{
			Name: "O6_resolved_dispute_escrow_settled",
			SQL: `SELECT d.id, d.status, e.status FROM disputes d
                  JOIN escrows e ON e.id = d.escrow_id
                  WHERE d.status <> 'open' AND e.status IN ('pending_funding','funded','disputed')`,
		},
		{
			Name: "O7_escrow_amount_within_budget",
			SQL: `SELECT e.id FROM escrows e
                  JOIN jobs j ON j.id = e.job_id
                  WHERE e.amount_cents <= 0 OR e.amount_cents > j.budget_cents
                     OR e.currency <> j.currency`,
		},
		{
			Name: "O8_assigned_job_has_accepted_proposal",
			SQL: `SELECT j.id, j.status FROM jobs j
                  WHERE j.status IN ('accepted','in_progress','completed')
                    AND NOT EXISTS (
                        SELECT 1 FROM proposals p
                        WHERE p.job_id = j.id AND p.status = 'accepted')`,
		},
		{
			Name: "O9_stale_settlement_claim",
			SQL: `SELECT id, settlement_op, settlement_started_at FROM escrows
                  WHERE settlement_op IS NOT NULL
                    AND settlement_started_at < now() - interval '5 minutes'`,
		},
		{
			Name: "O10_reputation_backed_by_completed_job",
			SQL: `SELECT rc.job_id FROM reputation_completions rc
                  LEFT JOIN jobs j ON j.id = rc.job_id
                  WHERE j.id IS NULL OR j.status <> 'completed'`,
		},
		{
			Name: "O11_split_within_bounds",
			SQL: `SELECT id, split_freelancer_bps FROM disputes
                  WHERE status = 'resolved_split'
                    AND (split_freelancer_bps IS NULL
                         OR split_freelancer_bps < 1 OR split_freelancer_bps > 9999)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and a sample
// row) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
