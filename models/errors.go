package models

import (
	"errors"
	"fmt"
)

var (
	ErrCompanyNotFound    = errors.New("company not found")
	ErrCompanyDeleting    = errors.New("company is being deleted")
	ErrDuplicateCompany   = errors.New("company already exists")
	ErrEmptyKnowledgeBase = errors.New("knowledge base is empty")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrDocumentInFlight   = errors.New("document is already being ingested")
	ErrInvalidChunkConfig = errors.New("invalid chunk configuration: overlap must be smaller than size")
	ErrIsolationViolation = errors.New("isolation violation")
	ErrPrivilegedSetting  = errors.New("changing the embedding model requires an admin token")
	ErrHistoryNotFound    = errors.New("history item not found")
	ErrRetryNotFound      = errors.New("retry id not found or expired")
	ErrInvalidSettings    = errors.New("invalid settings")
	ErrStatusConflict     = errors.New("document status changed concurrently")
)

// Stage names the ingestion step a document failed in.
type Stage string

const (
	StageParse  Stage = "parse"
	StageChunk  Stage = "chunk"
	StageEmbed  Stage = "embed"
	StageIndex  Stage = "index"
	StageCommit Stage = "commit"
)

// ParseError reports raw material that could not be turned into text.
type ParseError struct {
	Kind   SourceKind
	Origin string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s %q: %s: %v", e.Kind, e.Origin, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s %q: %s", e.Kind, e.Origin, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TransientError marks a failure worth retrying: network blips, provider
// throttling, a company temporarily reindexing.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient marks the error as retryable.
func (e *TransientError) Transient() bool { return true }

// Transient wraps err as retryable. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether any error in the chain is retryable.
func IsTransient(err error) bool {
	var t interface{ Transient() bool }
	return errors.As(err, &t) && t.Transient()
}

// IngestFailedError is the terminal outcome of a failed ingestion.
type IngestFailedError struct {
	DocumentID string
	Stage      Stage
	Err        error
}

func (e *IngestFailedError) Error() string {
	return fmt.Sprintf("ingest %s failed at %s: %v", e.DocumentID, e.Stage, e.Err)
}

func (e *IngestFailedError) Unwrap() error { return e.Err }

// SynthesisError reports an LLM failure. Retrieved holds the chunks that
// were already fetched so the answer can be retried without re-querying.
type SynthesisError struct {
	Err       error
	Retrieved []RetrievedChunk
	RetryID   string
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// IsolationViolation is returned when a namespace yields a record owned by
// a different company.
type IsolationViolation struct {
	Namespace string
	Expected  string
	Found     string
}

func (e *IsolationViolation) Error() string {
	return fmt.Sprintf("isolation violation in %s: expected company %s, found %s", e.Namespace, e.Expected, e.Found)
}

func (e *IsolationViolation) Is(target error) bool {
	return target == ErrIsolationViolation
}

// ValidationError is a rejected request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
