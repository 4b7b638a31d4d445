// Package audit implements the hash-chained Audit Log (spec §4.9): every
// administrative mutation is appended synchronously with this_hash
// computed over the entry plus the previous entry's hash, so the whole
// chain can later be re-verified from genesis or from a checkpoint.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/llmlb/llmlb/types"
)

// Store is the persistence surface the logger chains against.
type Store interface {
	LastAuditSeq(ctx context.Context) (uint64, error)
	LastAuditHash(ctx context.Context) (string, error)
	AppendAudit(ctx context.Context, entry *types.AuditEntry) error
	ListAuditFrom(ctx context.Context, fromSeq uint64) ([]*types.AuditEntry, error)
}

// AppendCallback is invoked (in its own goroutine) after every successful
// Append.
type AppendCallback func(entry *types.AuditEntry)

// Logger appends hash-chained audit entries. Append is synchronous and
// serialized by mu so seq assignment and hash chaining never race.
type Logger struct {
	store Store

	mu       sync.Mutex
	nextSeq  uint64
	prevHash string
	loaded   bool

	onAppend AppendCallback
}

// NewLogger constructs a Logger against store. The chain head (next seq,
// last hash) is lazily loaded from store on first Append, so construction
// never fails on a cold store.
func NewLogger(store Store) *Logger {
	return &Logger{store: store}
}

// OnAppend registers cb to be called after every successfully chained
// entry. Only one callback is supported; a later call replaces an
// earlier one.
func (l *Logger) OnAppend(cb AppendCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onAppend = cb
}

func (l *Logger) loadHead(ctx context.Context) error {
	if l.loaded {
		return nil
	}
	seq, err := l.store.LastAuditSeq(ctx)
	if err != nil {
		return fmt.Errorf("audit: load last seq: %w", err)
	}
	hash, err := l.store.LastAuditHash(ctx)
	if err != nil {
		return fmt.Errorf("audit: load last hash: %w", err)
	}
	l.nextSeq = seq + 1
	l.prevHash = hash
	l.loaded = true
	return nil
}

// Append records one administrative event. payload is hashed into the
// entry as payload_digest rather than stored verbatim, keeping the audit
// row small and stable regardless of how large the originating request
// was.
func (l *Logger) Append(ctx context.Context, actorID, action, targetID string, payload []byte) (*types.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadHead(ctx); err != nil {
		return nil, err
	}

	entry := &types.AuditEntry{
		Seq:           l.nextSeq,
		Timestamp:     time.Now().UTC(),
		ActorID:       actorID,
		Action:        action,
		TargetID:      targetID,
		PayloadDigest: digest(payload),
		PrevHash:      l.prevHash,
	}
	entry.ThisHash = chainHash(entry)

	if err := l.store.AppendAudit(ctx, entry); err != nil {
		return nil, fmt.Errorf("audit: append: %w", err)
	}

	l.nextSeq++
	l.prevHash = entry.ThisHash
	if l.onAppend != nil {
		go l.onAppend(entry)
	}
	return entry, nil
}

// digest returns a stable, short fingerprint of payload.
func digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// chainHash computes this_hash over every chained field plus prev_hash,
// per the append-only hash-chain contract.
func chainHash(e *types.AuditEntry) string {
	material := fmt.Sprintf("%d|%d|%s|%s|%s|%s|%s",
		e.Seq, e.Timestamp.UnixNano(), e.ActorID, e.Action, e.TargetID, e.PayloadDigest, e.PrevHash)
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

// VerifyResult reports the outcome of a chain verification pass.
type VerifyResult struct {
	OK      bool
	BreakAt uint64 // the first seq whose prev_hash link or recomputed hash mismatches; 0 if OK
}

// Verify re-hashes every entry from fromSeq (or genesis, if 0) forward,
// confirming each entry's this_hash both matches its own recomputed hash
// and chains correctly from the previous entry's this_hash.
func (l *Logger) Verify(ctx context.Context, fromSeq uint64) (VerifyResult, error) {
	entries, err := l.store.ListAuditFrom(ctx, fromSeq)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("audit: verify: list entries: %w", err)
	}

	prevHash := ""
	if fromSeq > 1 {
		// Re-establish the expected prev_hash by reading backward one
		// entry so a non-genesis checkpoint still verifies its link.
		checkpoint, err := l.store.ListAuditFrom(ctx, fromSeq-1)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("audit: verify: load checkpoint: %w", err)
		}
		if len(checkpoint) > 0 {
			prevHash = checkpoint[0].ThisHash
		}
	}

	for _, e := range entries {
		if e.PrevHash != prevHash {
			return VerifyResult{OK: false, BreakAt: e.Seq}, nil
		}
		if chainHash(e) != e.ThisHash {
			return VerifyResult{OK: false, BreakAt: e.Seq}, nil
		}
		prevHash = e.ThisHash
	}
	return VerifyResult{OK: true}, nil
}
