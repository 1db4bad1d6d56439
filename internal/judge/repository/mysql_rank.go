package repository

import (
	"context"
	"database/sql"

	"simoj/internal/common/db"
	"simoj/internal/judge/model"
)

// scoredJoin links a round's submissions that carry points.
const scoredJoin = `
	FROM submissions_to_rounds str
	JOIN submissions s ON s.id = str.submission_id
	WHERE str.round_id = ? AND s.status IN ('ok', 'error')`

// MySQLRankRepository implements RankRepository.
type MySQLRankRepository struct {
	db db.Database
}

// NewRankRepository creates a MySQL-backed rank repository.
func NewRankRepository(database db.Database) *MySQLRankRepository {
	return &MySQLRankRepository{db: database}
}

func (r *MySQLRankRepository) BestPoints(ctx context.Context, userID, roundID int64) (*int64, error) {
	return bestPoints(ctx, r.db, userID, roundID)
}

func bestPoints(ctx context.Context, q db.Querier, userID, roundID int64) (*int64, error) {
	var best sql.NullInt64
	err := q.QueryRow(ctx, "SELECT MAX(s.points)"+scoredJoin+" AND str.user_id = ?", roundID, userID).Scan(&best)
	if err != nil {
		return nil, err
	}
	if !best.Valid {
		return nil, nil
	}
	v := best.Int64
	return &v, nil
}

// RefreshRank rewrites the rank row from the user's scored submissions.
//
// The placeholder insert takes the row lock before the max is read, so
// concurrent refreshes of one (user, round) from any process run one after
// another and the last to commit saw every verdict committed before it.
func (r *MySQLRankRepository) RefreshRank(ctx context.Context, userID, roundID int64) (*int64, error) {
	var best *int64
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ranks (user_id, round_id, points) VALUES (?, ?, NULL)
			ON DUPLICATE KEY UPDATE points = points`,
			userID, roundID,
		); err != nil {
			return err
		}
		var err error
		best, err = bestPoints(ctx, tx, userID, roundID)
		if err != nil {
			return err
		}
		if best == nil {
			_, err = tx.Exec(ctx, "DELETE FROM ranks WHERE user_id = ? AND round_id = ?", userID, roundID)
			return err
		}
		_, err = tx.Exec(ctx, "UPDATE ranks SET points = ? WHERE user_id = ? AND round_id = ?", *best, userID, roundID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return best, nil
}

func (r *MySQLRankRepository) ListRanks(ctx context.Context, roundID int64) ([]model.RankEntry, error) {
	return r.queryEntries(ctx, `
		SELECT user_id, points FROM ranks
		WHERE round_id = ? AND points IS NOT NULL
		ORDER BY points DESC, user_id ASC`, roundID)
}

func (r *MySQLRankRepository) ComputeRanking(ctx context.Context, roundID int64) ([]model.RankEntry, error) {
	return r.queryEntries(ctx, "SELECT str.user_id, MAX(s.points) AS best"+scoredJoin+`
		GROUP BY str.user_id
		ORDER BY best DESC, str.user_id ASC`, roundID)
}

func (r *MySQLRankRepository) Participants(ctx context.Context, roundID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, "SELECT DISTINCT user_id FROM submissions_to_rounds WHERE round_id = ? ORDER BY user_id", roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *MySQLRankRepository) queryEntries(ctx context.Context, query string, args ...interface{}) ([]model.RankEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := make([]model.RankEntry, 0)
	for rows.Next() {
		var e model.RankEntry
		if err := rows.Scan(&e.UserID, &e.Points); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MySQLStore assembles the MySQL repositories into a Store.
type MySQLStore struct {
	*MySQLReferenceRepository
	*MySQLSubmissionRepository
	*MySQLRankRepository
}

// NewMySQLStore wires every MySQL repository over one pool.
func NewMySQLStore(database db.Database) *MySQLStore {
	return &MySQLStore{
		MySQLReferenceRepository:  NewReferenceRepository(database),
		MySQLSubmissionRepository: NewSubmissionRepository(database),
		MySQLRankRepository:       NewRankRepository(database),
	}
}

var _ Store = (*MySQLStore)(nil)
