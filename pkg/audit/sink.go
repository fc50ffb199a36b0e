package audit

import (
	"context"
	"database/sql"
)

// Sink records audit entries. Append fails only on storage unavailability
// (transient kind); the decision the entry describes has already taken
// effect and must not be rolled back because its audit write failed.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
	Close() error
}

// TxSink is a Sink that can also append inside a caller-owned database
// transaction, used to commit a lifecycle transition and its audit entry
// atomically.
type TxSink interface {
	Sink
	AppendTx(ctx context.Context, tx *sql.Tx, entry Entry) error
}

// MultiSink fans appends out to several sinks, continuing past individual
// failures and returning the first error.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Append writes the entry to every sink.
func (m *MultiSink) Append(ctx context.Context, entry Entry) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Append(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every sink.
func (m *MultiSink) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// TxMultiSink fans plain appends out to every sink while routing
// transactional appends to the database sink, which is the one that can
// share the transition's transaction.
type TxMultiSink struct {
	*MultiSink
	db *DBSink
}

// NewTxMultiSink creates a fan-out sink that keeps AppendTx on the
// database sink.
func NewTxMultiSink(db *DBSink, others ...Sink) *TxMultiSink {
	sinks := append([]Sink{db}, others...)
	return &TxMultiSink{
		MultiSink: NewMultiSink(sinks...),
		db:        db,
	}
}

// AppendTx writes the entry inside the caller's transaction via the
// database sink.
func (m *TxMultiSink) AppendTx(ctx context.Context, tx *sql.Tx, entry Entry) error {
	return m.db.AppendTx(ctx, tx, entry)
}
