package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	defaultMutationTimeout = 10 * time.Second
	notifyTimeout          = 5 * time.Second
)

// Mutation is a unit of work: Apply runs inside a transaction, Audit derives
// the entry committed with it, and AfterCommit runs once the commit succeeded.
type Mutation[T any] struct {
	Action      Action
	Actor       Actor
	Apply       func(ctx context.Context, tx *gorm.DB) (T, error)
	Audit       func(T) AuditSpec
	AfterCommit func(ctx context.Context, result T) error
}

// Coordinator owns begin, commit and rollback for every mutation.
type Coordinator struct {
	orm     *gorm.DB
	audit   *AuditTrail
	log     zerolog.Logger
	metrics *metrics
	timeout time.Duration
}

// Execute runs m atomically with its audit entry. Any error from Apply or
// from writing the entry rolls back both. AfterCommit failures are logged
// and never change the result.
func Execute[T any](ctx context.Context, c *Coordinator, m Mutation[T]) (T, error) {
	var zero T
	if c == nil {
		return zero, &Error{Kind: KindInternal, Message: "internal error", Err: errors.New("nil coordinator")}
	}
	if m.Apply == nil || m.Audit == nil {
		return zero, &Error{Kind: KindInternal, Message: "internal error", Err: errors.New("mutation requires apply and audit")}
	}

	txCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var result T
	err := c.orm.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		out, err := m.Apply(txCtx, tx)
		if err != nil {
			return err
		}

		spec := m.Audit(out)
		if spec.Action == "" {
			spec.Action = m.Action
		}
		if _, err := c.audit.Append(txCtx, tx, m.Actor, spec); err != nil {
			c.metrics.auditFailures.Inc()
			return fmt.Errorf("append audit entry: %w", err)
		}

		result = out
		return nil
	})
	if err != nil {
		err = classify(err)
		c.metrics.mutation(m.Action, err)
		c.logFailure(m.Action, m.Actor, err)
		return zero, err
	}
	c.metrics.mutation(m.Action, nil)

	if m.AfterCommit != nil {
		c.dispatch(ctx, m.Action, func(nctx context.Context) error {
			return m.AfterCommit(nctx, result)
		})
	}

	return result, nil
}

func (c *Coordinator) dispatch(ctx context.Context, action Action, fn func(context.Context) error) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := fn(nctx); err != nil {
		nerr := &Error{Kind: KindNotification, Message: "notification failed", Err: err}
		c.metrics.notifications.WithLabelValues("failed").Inc()
		c.log.Warn().Err(nerr).Str("action", string(action)).Msg("post-commit notification")
		return
	}
	c.metrics.notifications.WithLabelValues("sent").Inc()
}

func (c *Coordinator) logFailure(action Action, actor Actor, err error) {
	var ev *zerolog.Event
	switch KindOf(err) {
	case KindInternal:
		ev = c.log.Error()
	case KindTransient:
		ev = c.log.Warn()
	default:
		ev = c.log.Debug()
	}
	ev.Err(err).
		Str("action", string(action)).
		Str("actor_id", actor.ID.String()).
		Msg("mutation rolled back")
}
