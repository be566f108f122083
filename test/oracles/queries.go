package oracles

import (
	"context"
	"fmt"

	"realtyclaims/db"
)

type Oracle struct {
	Name string
	SQL  string
}

// All lists the invariants checked while the stress actors run. Every query
// returns rows only when its invariant is broken.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_approved_claim_per_company",
			SQL: `SELECT company_id, COUNT(*) FROM claim_requests
                  WHERE status = 'approved'
                  GROUP BY company_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_approved_claim_owns_company",
			SQL: `SELECT cr.id, cr.company_id FROM claim_requests cr
                  JOIN companies c ON c.id = cr.company_id
                  WHERE cr.status = 'approved'
                    AND (NOT c.claimed OR c.claimed_by_request IS DISTINCT FROM cr.id)`,
		},
		{
			Name: "O3_single_approval_event",
			SQL: `SELECT claim_id, COUNT(*) FROM claim_events
                  WHERE type = 'CLAIM_APPROVED'
                  GROUP BY claim_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_approval_event_matches_status",
			SQL: `SELECT e.claim_id, cr.status FROM claim_events e
                  JOIN claim_requests cr ON cr.id = e.claim_id
                  WHERE (e.type = 'CLAIM_APPROVED' AND cr.status <> 'approved')
                     OR (e.type = 'CLAIM_REJECTED' AND cr.status <> 'rejected')`,
		},
		{
			Name: "O5_converged_domain_claim_not_pending",
			SQL: `SELECT cr.id FROM claim_requests cr
                  JOIN companies c ON c.id = cr.company_id
                  WHERE cr.status = 'pending' AND cr.domain_verified
                    AND cr.business_email_verified AND cr.supervisor_email_verified
                    AND NOT c.claimed`,
		},
		{
			Name: "O6_company_accounts_linked",
			SQL:  `SELECT id FROM users WHERE role = 'company' AND company_id IS NULL`,
		},
		{
			Name: "O7_credentials_only_while_pending",
			SQL: `SELECT cc.claim_id FROM claim_credentials cc
                  JOIN claim_requests cr ON cr.id = cc.claim_id
                  WHERE cr.status <> 'pending'`,
		},
		{
			Name: "O8_outbox_not_dead",
			SQL:  `SELECT id, topic, last_error FROM outbox WHERE status = 'dead'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, q db.Querier) (string, string, error) {
	for _, o := range All() {
		rows, err := q.Query(ctx, o.SQL)
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
		err = rows.Err()
		rows.Close()
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
