// errors.go - Error taxonomy and driver error classification

package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	mongodrv "go.mongodb.org/mongo-driver/mongo"
)

// Sentinel errors.
var (
	// ErrCursorClosed is wrapped by a CursorError when a closed cursor or change stream is used.
	ErrCursorClosed = errors.New("cursor closed")

	// ErrFileNotFound is returned by GridFS operations on a missing file.
	ErrFileNotFound = errors.New("file not found")

	// ErrClientClosed is returned by operations issued after Client.Close.
	ErrClientClosed = errors.New("client closed")
)

// Server error codes the facade treats specially.
const (
	codeDocumentValidationFailure = 121
	codeDuplicateKey              = 11000
	codeDuplicateKeyUpdate        = 11001
	codeDuplicateKeyCapped        = 12582
	codeDuplicateKeyLegacy        = 16460
)

// ConfigurationError reports a bad connection string or conflicting options.
// It is produced locally and is never worth retrying.
type ConfigurationError struct {
	Option string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "docstore: invalid configuration"
	if e.Option != "" {
		msg += " (" + e.Option + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ValidationError reports a malformed filter, update, replacement or document,
// or a server-side document validation failure (then Err is a *ServerError).
type ValidationError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := "docstore: " + e.Op + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TransportError reports a network-level failure, a timeout or a cancelled context.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("docstore: %s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServerError reports a command rejected by the server.
type ServerError struct {
	Op      string
	Code    int
	Name    string
	Message string
	Labels  []string
	Err     error
}

func (e *ServerError) Error() string {
	var b strings.Builder
	b.WriteString("docstore: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "server error %d", e.Code)
	if e.Name != "" {
		b.WriteString(" (" + e.Name + ")")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

func (e *ServerError) Unwrap() error { return e.Err }

// HasLabel reports whether the server attached the given error label.
func (e *ServerError) HasLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// DuplicateKeyError reports a unique index violation.
type DuplicateKeyError struct {
	ServerError
}

func (e *DuplicateKeyError) Error() string {
	return "docstore: duplicate key: " + strings.TrimPrefix(e.ServerError.Error(), "docstore: ")
}

// Unwrap exposes the embedded ServerError so errors.As finds both types.
func (e *DuplicateKeyError) Unwrap() error { return &e.ServerError }

// CursorError reports a failure while iterating a cursor or change stream.
type CursorError struct {
	Op  string
	Err error
}

func (e *CursorError) Error() string {
	return fmt.Sprintf("docstore: %s: cursor: %v", e.Op, e.Err)
}

func (e *CursorError) Unwrap() error { return e.Err }

// BulkErrorCase holds an individual failure of a bulk write.
// Index is the position of the failing model in the caller's slice,
// or -1 when the failure is not attached to a single model.
type BulkErrorCase struct {
	Index     int
	Namespace Namespace
	Err       error
}

// BulkWriteError is returned by BulkWrite when one or more models failed.
// Result holds the counts of everything that was applied.
type BulkWriteError struct {
	Result BulkWriteResult
	Cases  []BulkErrorCase
}

func (e *BulkWriteError) Error() string {
	if len(e.Cases) == 1 {
		c := e.Cases[0]
		return fmt.Sprintf("docstore: bulk write: model %d: %v", c.Index, c.Err)
	}
	return fmt.Sprintf("docstore: bulk write: %d failures (first at model %d: %v)",
		len(e.Cases), e.Cases[0].Index, e.Cases[0].Err)
}

// Unwrap returns the errors of all cases.
func (e *BulkWriteError) Unwrap() []error {
	errs := make([]error, 0, len(e.Cases))
	for _, c := range e.Cases {
		errs = append(errs, c.Err)
	}
	return errs
}

func (e *BulkWriteError) sortCases() {
	sort.SliceStable(e.Cases, func(i, j int) bool {
		a, b := e.Cases[i].Index, e.Cases[j].Index
		if a < 0 {
			return false
		}
		if b < 0 {
			return true
		}
		return a < b
	})
}

func isDuplicateKeyCode(code int, message string) bool {
	switch code {
	case codeDuplicateKey, codeDuplicateKeyUpdate, codeDuplicateKeyCapped:
		return true
	case codeDuplicateKeyLegacy:
		return strings.Contains(message, " E11000 ")
	}
	return false
}

// newServerError builds the most specific error for a server-reported failure.
func newServerError(op string, code int, name, message string, labels []string, cause error) error {
	se := ServerError{
		Op:      op,
		Code:    code,
		Name:    name,
		Message: message,
		Labels:  labels,
		Err:     cause,
	}

	switch {
	case isDuplicateKeyCode(code, message):
		return &DuplicateKeyError{ServerError: se}
	case code == codeDocumentValidationFailure:
		return &ValidationError{Op: op, Reason: "document failed validation", Err: &se}
	default:
		return &se
	}
}

// classify maps a driver error onto the facade's taxonomy.
// Errors already classified are returned unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var (
		cfgErr  *ConfigurationError
		valErr  *ValidationError
		trErr   *TransportError
		srvErr  *ServerError
		dupErr  *DuplicateKeyError
		curErr  *CursorError
		bulkErr *BulkWriteError
	)
	if errors.As(err, &cfgErr) || errors.As(err, &valErr) || errors.As(err, &trErr) ||
		errors.As(err, &dupErr) || errors.As(err, &srvErr) || errors.As(err, &curErr) ||
		errors.As(err, &bulkErr) {
		return err
	}

	if errors.Is(err, mongodrv.ErrClientDisconnected) {
		return fmt.Errorf("docstore: %s: %w", op, ErrClientClosed)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		mongodrv.IsNetworkError(err) || mongodrv.IsTimeout(err) {
		return &TransportError{Op: op, Err: err}
	}

	var we mongodrv.WriteException
	if errors.As(err, &we) {
		if len(we.WriteErrors) > 0 {
			first := we.WriteErrors[0]
			return newServerError(op, first.Code, "", first.Message, we.Labels, err)
		}
		if we.WriteConcernError != nil {
			wce := we.WriteConcernError
			return newServerError(op, wce.Code, wce.Name, wce.Message, we.Labels, err)
		}
	}

	var bwe mongodrv.BulkWriteException
	if errors.As(err, &bwe) {
		return newBulkWriteError(BulkWriteResult{}, bwe, Namespace{}, nil)
	}

	var ce mongodrv.CommandError
	if errors.As(err, &ce) {
		return newServerError(op, int(ce.Code), ce.Name, ce.Message, ce.Labels, err)
	}

	return fmt.Errorf("docstore: %s: %w", op, err)
}

// newBulkWriteError converts a driver bulk exception. indices maps the
// driver's per-request index onto the caller's model index; nil means identity.
func newBulkWriteError(res BulkWriteResult, bwe mongodrv.BulkWriteException, ns Namespace, indices []int) *BulkWriteError {
	e := &BulkWriteError{Result: res}
	e.Cases = append(e.Cases, bulkCases(bwe, ns, indices)...)
	e.sortCases()
	return e
}

func bulkCases(bwe mongodrv.BulkWriteException, ns Namespace, indices []int) []BulkErrorCase {
	var cases []BulkErrorCase
	for _, we := range bwe.WriteErrors {
		idx := we.Index
		if indices != nil && idx >= 0 && idx < len(indices) {
			idx = indices[idx]
		}
		cases = append(cases, BulkErrorCase{
			Index:     idx,
			Namespace: ns,
			Err:       newServerError("bulk write", we.Code, "", we.Message, bwe.Labels, we),
		})
	}

	if wce := bwe.WriteConcernError; wce != nil {
		cases = append(cases, BulkErrorCase{
			Index:     -1,
			Namespace: ns,
			Err:       newServerError("bulk write", wce.Code, wce.Name, wce.Message, bwe.Labels, wce),
		})
	}

	if len(cases) == 0 {
		cases = append(cases, BulkErrorCase{
			Index:     -1,
			Namespace: ns,
			Err:       &ServerError{Op: "bulk write", Message: bwe.Error(), Labels: bwe.Labels, Err: bwe},
		})
	}
	return cases
}
