package store

import (
	"context"
	"fmt"
	"time"

	"pubformatter/internal/utils"
	"pubformatter/pkg/types"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"
)

const submissionTableName = "pubformatter.submissions"

var submissionColumns = utils.StructTagValues(types.Submission{})

type SubmissionRepository struct {
	pool *pgxpool.Pool
}

func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

func (r *SubmissionRepository) Submission(ctx context.Context, id string) (*types.Submission, error) {

	query, args, err := psql().Select(submissionColumns...).From(submissionTableName).
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate submission query: %w", err)
	}

	var submission = new(types.Submission)
	err = pgxscan.Get(ctx, r.pool, submission, query, args...)
	if err != nil && !pgxscan.NotFound(err) {
		return nil, err
	}

	if err != nil {
		return nil, types.ErrSubmissionNotFound
	}

	return submission, nil

}

func (r *SubmissionRepository) SubmissionsBySession(ctx context.Context, sessionID string, limit uint64) ([]*types.Submission, error) {

	builder := psql().Select(submissionColumns...).From(submissionTableName).
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("created_at desc")
	if limit > 0 {
		builder = builder.Limit(limit)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session submissions query: %w", err)
	}

	var submissions = make([]*types.Submission, 0)
	err = pgxscan.Select(ctx, r.pool, &submissions, query, args...)
	if err != nil {
		return nil, err
	}

	return submissions, nil

}

func (r *SubmissionRepository) CreateSubmission(ctx context.Context, submission *types.Submission) error {

	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = time.Now()
	}

	query, args, err := psql().Insert(submissionTableName).
		SetMap(utils.StructToMap(submission)).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate submission insert query: %w", err)
	}

	_, err = r.pool.Exec(ctx, query, args...)
	return err

}

func (r *SubmissionRepository) UpdateSubmission(ctx context.Context, submission *types.Submission) error {

	query, args, err := psql().Update(submissionTableName).
		SetMap(utils.StructToMap(submission)).
		Where(sq.Eq{"id": submission.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate submission update query: %w", err)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return types.ErrSubmissionNotFound
	}

	return nil

}

// ExpiredHandles returns submissions whose download handle expired before the
// given time and was never released
func (r *SubmissionRepository) ExpiredHandles(ctx context.Context, before time.Time) ([]*types.Submission, error) {

	query, args, err := expiredHandlesQuery(before).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate expired handles query: %w", err)
	}

	var submissions = make([]*types.Submission, 0)
	err = pgxscan.Select(ctx, r.pool, &submissions, query, args...)
	if err != nil {
		return nil, err
	}

	return submissions, nil

}

func (r *SubmissionRepository) MarkHandleReleased(ctx context.Context, handleID string) error {

	query, args, err := markHandleReleasedQuery(handleID, time.Now()).ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate handle release query: %w", err)
	}

	_, err = r.pool.Exec(ctx, query, args...)
	return err

}

func expiredHandlesQuery(before time.Time) sq.SelectBuilder {
	return psql().Select(submissionColumns...).From(submissionTableName).
		Where(sq.NotEq{"handle_id": nil}).
		Where(sq.Eq{"handle_released_at": nil}).
		Where(sq.Lt{"handle_expires_at": before}).
		OrderBy("handle_expires_at asc")
}

func markHandleReleasedQuery(handleID string, at time.Time) sq.UpdateBuilder {
	return psql().Update(submissionTableName).
		Set("handle_released_at", at).
		Where(sq.Eq{"handle_id": handleID}).
		Where(sq.Eq{"handle_released_at": nil})
}
