package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dixxi1208/GryazBot/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// pollColumns must match the Scan order in scanPoll.
const pollColumns = `id, chat_id, target_user_id, nominator_user_id, message_ref,
    plus_count, minus_count, status, created_at, resolved_at`

type PollRepo struct {
	pool *pgxpool.Pool
}

func NewPollRepo(pool *pgxpool.Pool) *PollRepo {
	return &PollRepo{pool: pool}
}

func scanPoll(row pgx.Row) (*domain.Poll, error) {
	var (
		p      domain.Poll
		status string
	)
	err := row.Scan(&p.ID, &p.ChatID, &p.TargetUserID, &p.NominatorUserID, &p.MessageRef,
		&p.PlusCount, &p.MinusCount, &status, &p.CreatedAt, &p.ResolvedAt)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PollStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	if p.ResolvedAt != nil {
		t := p.ResolvedAt.UTC()
		p.ResolvedAt = &t
	}
	return &p, nil
}

func (r *PollRepo) CreatePoll(ctx context.Context, np domain.NewPoll) (*domain.Poll, error) {
	p, err := scanPoll(r.pool.QueryRow(ctx, `
INSERT INTO polls (chat_id, target_user_id, nominator_user_id, created_at)
VALUES ($1, $2, $3, $4)
RETURNING `+pollColumns,
		np.ChatID, np.TargetUserID, np.NominatorUserID, np.CreatedAt.UTC()))

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return nil, domain.ErrAlreadyOpen
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create poll: %w", err)
	}
	return p, nil
}

func (r *PollRepo) GetPoll(ctx context.Context, pollID int64) (*domain.Poll, error) {
	p, err := scanPoll(r.pool.QueryRow(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1`, pollID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUnknownPoll
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get poll: %w", err)
	}
	return p, nil
}

func (r *PollRepo) LatestPollForTarget(ctx context.Context, chatID, targetUserID int64) (*domain.Poll, error) {
	p, err := scanPoll(r.pool.QueryRow(ctx, `
SELECT `+pollColumns+` FROM polls
WHERE chat_id = $1 AND target_user_id = $2
ORDER BY id DESC
LIMIT 1`, chatID, targetUserID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUnknownPoll
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest poll: %w", err)
	}
	return p, nil
}

func (r *PollRepo) SetMessageRef(ctx context.Context, pollID int64, ref string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE polls SET message_ref = $2 WHERE id = $1`, pollID, ref)
	if err != nil {
		return fmt.Errorf("failed to set message ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUnknownPoll
	}
	return nil
}

// The FOR SHARE lock makes the insert wait for a concurrent transition and
// then see the poll's final status.
const insertVoteSQL = `
INSERT INTO votes (poll_id, voter_user_id, choice, cast_at)
SELECT $1, $2, $3, $4
WHERE EXISTS (SELECT 1 FROM polls WHERE id = $1 AND status = 'open' FOR SHARE)
ON CONFLICT (poll_id, voter_user_id) DO NOTHING`

func (r *PollRepo) InsertVote(ctx context.Context, v domain.Vote) error {
	tag, err := r.pool.Exec(ctx, insertVoteSQL, v.PollID, v.VoterUserID, string(v.Choice), v.CastAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert vote: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	p, err := r.GetPoll(ctx, v.PollID)
	if err != nil {
		return err
	}
	if p.Status != domain.PollOpen {
		return domain.ErrPollClosed
	}
	return domain.ErrDuplicateVote
}

func (r *PollRepo) ListVotes(ctx context.Context, pollID int64) ([]domain.Vote, error) {
	rows, err := r.pool.Query(ctx, `
SELECT poll_id, voter_user_id, choice, cast_at FROM votes
WHERE poll_id = $1
ORDER BY seq`, pollID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}

	votes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Vote, error) {
		var (
			v      domain.Vote
			choice string
		)
		err := row.Scan(&v.PollID, &v.VoterUserID, &choice, &v.CastAt)
		v.Choice = domain.Choice(choice)
		v.CastAt = v.CastAt.UTC()
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan votes: %w", err)
	}
	return votes, nil
}

const refreshTallySQL = `
UPDATE polls p SET plus_count = t.plus, minus_count = t.minus
FROM (
    SELECT count(*) FILTER (WHERE choice = 'plus')  AS plus,
           count(*) FILTER (WHERE choice = 'minus') AS minus
    FROM votes WHERE poll_id = $1
) t
WHERE p.id = $1 AND p.status = 'open'
RETURNING p.plus_count, p.minus_count`

func (r *PollRepo) RefreshTally(ctx context.Context, pollID int64) (domain.Tally, error) {
	var tally domain.Tally
	err := r.pool.QueryRow(ctx, refreshTallySQL, pollID).Scan(&tally.Plus, &tally.Minus)
	if err == nil {
		return tally, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Tally{}, fmt.Errorf("failed to refresh tally: %w", err)
	}

	p, err := r.GetPoll(ctx, pollID)
	if err != nil {
		return domain.Tally{}, err
	}
	return domain.Tally{Plus: p.PlusCount, Minus: p.MinusCount}, domain.ErrPollClosed
}

// stillOpen guards every open -> terminal write.
const stillOpen = "status = 'open'"

func (r *PollRepo) TransitionPoll(ctx context.Context, pollID int64, to domain.PollStatus, at time.Time) (bool, error) {
	if !to.Valid() || !to.Terminal() {
		return false, fmt.Errorf("invalid target status %q", to)
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE polls SET status = $2, resolved_at = $3
WHERE id = $1 AND `+stillOpen, pollID, string(to), at.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to transition poll: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	if _, err := r.GetPoll(ctx, pollID); err != nil {
		return false, err
	}
	return false, nil
}

// ExpireOpenPolls shares the stillOpen guard with TransitionPoll.
func (r *PollRepo) ExpireOpenPolls(ctx context.Context, cutoff, at time.Time) ([]domain.Poll, error) {
	rows, err := r.pool.Query(ctx, `
WITH expired AS (
    UPDATE polls SET status = 'expired', resolved_at = $2
    WHERE `+stillOpen+` AND created_at <= $1
    RETURNING `+pollColumns+`
)
SELECT `+pollColumns+` FROM expired ORDER BY id`, cutoff.UTC(), at.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to expire polls: %w", err)
	}

	polls, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Poll, error) {
		p, err := scanPoll(row)
		if err != nil {
			return domain.Poll{}, err
		}
		return *p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan expired polls: %w", err)
	}
	return polls, nil
}
