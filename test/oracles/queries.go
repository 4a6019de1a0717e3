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
			Name: "O1_seq_contiguous",
			SQL: `WITH seqs AS (
                      SELECT scenario_id, seq,
                             LAG(seq) OVER (PARTITION BY scenario_id ORDER BY seq) AS prev
                      FROM scenario_events)
                  SELECT * FROM seqs
                  WHERE (prev IS NULL AND seq <> 1)
                     OR (prev IS NOT NULL AND seq <> prev + 1)`,
		},
		{
			Name: "O2_version_matches_events",
			SQL: `SELECT s.id, s.version, e.max_seq
                  FROM scenarios s
                  JOIN (SELECT scenario_id, MAX(seq) AS max_seq
                        FROM scenario_events GROUP BY scenario_id) e
                    ON e.scenario_id = s.id
                  WHERE e.max_seq <> s.version`,
		},
		{
			Name: "O3_outbox_event_match",
			SQL: `SELECT o.id FROM outbox o
                  LEFT JOIN scenario_events e ON e.id = o.event_id
                  WHERE e.id IS NULL
                     OR e.scenario_id <> o.scenario_id
                     OR e.seq <> o.seq`,
		},
		{
			Name: "O4_delivery_order",
			SQL: `SELECT o.id, o.scenario_id, o.seq FROM outbox o
                  JOIN outbox prior
                    ON prior.scenario_id = o.scenario_id AND prior.seq < o.seq
                  WHERE o.delivery_state = 'delivered'
                    AND prior.delivery_state IN ('pending', 'failed')`,
		},
		{
			Name: "O5_attempts_bounded",
			SQL:  `SELECT id, attempt_count FROM outbox WHERE attempt_count > 10`,
		},
		{
			Name: "O6_deleted_scenarios_frozen",
			SQL: `SELECT e.id FROM scenario_events e
                  JOIN scenarios s ON s.id = e.scenario_id
                  WHERE s.deleted_at IS NOT NULL AND e.created_at > s.deleted_at`,
		},
		{
			Name: "O7_status_event_pairing",
			SQL: `SELECT s.id FROM scenarios s
                  WHERE s.deleted_at IS NULL
                    AND NOT EXISTS (
                        SELECT 1 FROM scenario_events e
                        WHERE e.scenario_id = s.id AND e.seq = 1 AND e.type = 'SCENARIO_CREATED')`,
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
