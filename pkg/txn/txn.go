// Package txn runs a mutation and its audit record as one database
// transaction. Every successful Run writes exactly one revision and one
// change row per logical write, all sharing a fresh transaction id. Any
// failure rolls the whole transaction back.
package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/packrat/pinserver/pkg/errcode"
	"github.com/packrat/pinserver/pkg/store"
)

const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
)

var CounterOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pins",
		Subsystem: "txn",
		Name:      "transactions_total",
		Help:      "Write transactions by operation and outcome.",
	},
	[]string{"operation", "outcome"},
)

func init() {
	prometheus.MustRegister(CounterOutcomes)
}

// Mutation performs the writes of one operation on a gateway bound to the
// open transaction and returns the changes to record.
type Mutation func(g *store.Gateway) ([]store.Change, error)

// Result describes a committed transaction.
type Result struct {
	TransactionID int64
	Revision      store.Revision
	// Updates is the number of change rows written.
	Updates int64
}

// Coordinator opens, audits and commits write transactions.
type Coordinator struct {
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Coordinator. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// DefaultComment is the comment recorded when the caller gives none, e.g.
// "Auto Comment - Add Packages" for add-packages.
func DefaultComment(op string) string {
	words := strings.FieldsFunc(op, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return "Auto Comment - " + strings.Join(words, " ")
}

// Run executes fn inside a transaction on db and records its audit trail.
// A mutation that reports no changes fails with FailedPrecondition, since
// there would be nothing to audit. On any failure, including a panic in fn
// or ctx ending, the transaction is rolled back and a zero Result returned.
func (c *Coordinator) Run(ctx context.Context, db *gorm.DB, author, comment, op string, fn Mutation) (res Result, err error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return Result{}, errcode.New(errcode.InvalidArgument, "author is required")
	}
	if strings.TrimSpace(comment) == "" {
		comment = DefaultComment(op)
	}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return Result{}, fmt.Errorf("begin transaction: %w", tx.Error)
	}

	committed := false
	defer func() {
		if r := recover(); r != nil {
			err = errcode.New(errcode.Internal, "%s panicked: %v", op, r)
		}
		if committed {
			CounterOutcomes.WithLabelValues(op, OutcomeCommitted).Inc()
			return
		}
		if rerr := tx.Rollback().Error; rerr != nil && !errors.Is(rerr, sql.ErrTxDone) && !errors.Is(rerr, gorm.ErrInvalidTransaction) {
			c.logger.Warn("rollback failed", "operation", op, "error", rerr)
		}
		CounterOutcomes.WithLabelValues(op, OutcomeRolledBack).Inc()
		c.logger.Info("rolled back transaction", "operation", op, "author", author, "error", err)
		res = Result{}
	}()

	g := store.NewGateway(tx, c.logger)
	txID, err := g.AllocateTransaction()
	if err != nil {
		return Result{}, err
	}

	changes, err := fn(g)
	if err != nil {
		return Result{}, err
	}
	if len(changes) == 0 {
		return Result{}, errcode.New(errcode.FailedPrecondition, "%s made no changes", op)
	}

	rev, err := g.RecordRevision(txID, author, comment, c.now())
	if err != nil {
		return Result{}, err
	}
	if err := g.RecordChanges(txID, changes); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, errcode.Wrap(errcode.ResourceUnavailable, fmt.Errorf("commit %s: %w", op, err))
	}
	if err := tx.Commit().Error; err != nil {
		return Result{}, fmt.Errorf("commit %s: %w", op, err)
	}
	committed = true

	c.logger.Info("committed transaction",
		"operation", op,
		"transactionId", txID,
		"author", author,
		"changes", len(changes),
	)
	return Result{TransactionID: txID, Revision: rev, Updates: int64(len(changes))}, nil
}
