package driver

import "fmt"

// Kind classifies an Error by behavioural class, per spec.md §7's taxonomy
// ("by behavioural class, not type names").
type Kind int

// The error kinds the CORE reasons about.
const (
	KindInvalidArgument Kind = iota
	KindConfigurationError
	KindServerSelectionTimeout
	KindNetwork
	KindStateChange
	KindCommandFailure
	KindWriteConcernFailure
	KindCursorFailure
	KindSessionFailure
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindConfigurationError:
		return "ConfigurationError"
	case KindServerSelectionTimeout:
		return "ServerSelectionTimeout"
	case KindNetwork:
		return "Network"
	case KindStateChange:
		return "StateChange"
	case KindCommandFailure:
		return "CommandFailure"
	case KindWriteConcernFailure:
		return "WriteConcernFailure"
	case KindCursorFailure:
		return "CursorFailure"
	case KindSessionFailure:
		return "SessionFailure"
	case KindShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Error labels emitted on the public error surface, exact strings per
// spec.md §6.
const (
	LabelRetryableWriteError          = "RetryableWriteError"
	LabelTransientTransactionError    = "TransientTransactionError"
	LabelUnknownTransactionCommitResult = "UnknownTransactionCommitResult"
	LabelSystemOverloadedError        = "SystemOverloadedError"
	LabelRetryableError               = "RetryableError"
	LabelNoWritesPerformed            = "NoWritesPerformed"
	LabelResumableChangeStreamError   = "ResumableChangeStreamError"
)

// Error is the CORE's public error shape: kind, optional server address,
// optional chained source, optional raw server response, and labels
// (spec.md §7 "Errors carry: ...").
type Error struct {
	Kind    Kind
	Address string
	Message string
	Code    int32
	Labels  []string
	Raw     Doc
	Source  error

	// Redacted is set for commands marked sensitive (authentication, hello
	// with speculative auth); once true, Message and Raw must not cross the
	// public API (spec.md §7 "Redaction").
	Redacted bool
}

func (e *Error) Error() string {
	if e.Redacted {
		return fmt.Sprintf("%s error (redacted)", e.Kind)
	}
	if e.Address != "" {
		return fmt.Sprintf("%s: %s (address %s)", e.Kind, e.Message, e.Address)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the chained source error.
func (e *Error) Unwrap() error { return e.Source }

// HasLabel reports whether l is one of e's error labels.
func (e *Error) HasLabel(l string) bool {
	for _, got := range e.Labels {
		if got == l {
			return true
		}
	}
	return false
}

// AddLabel returns a copy of e with l appended if not already present.
func (e *Error) AddLabel(l string) *Error {
	if e.HasLabel(l) {
		return e
	}
	next := *e
	next.Labels = append(append([]string(nil), e.Labels...), l)
	return &next
}

// Redact strips the human-readable message and raw response, per spec.md
// §7's redaction policy for sensitive commands.
func (e *Error) Redact() *Error {
	next := *e
	next.Redacted = true
	next.Message = ""
	next.Raw = nil
	return &next
}

// WriteError is one element of a bulk/command reply's writeErrors array.
type WriteError struct {
	Index   int32
	Code    int32
	Message string
}

// WriteConcernError reports a write that succeeded locally but did not meet
// the requested durability (spec.md §7 "WriteConcernFailure").
type WriteConcernError struct {
	Code    int32
	Message string
	Labels  []string
}

// WriteCommandError aggregates the write-specific portions of a command
// reply, grounded on the teacher's x/mongo/driverx/driver.go
// WriteCommandError.
type WriteCommandError struct {
	WriteErrors       []WriteError
	WriteConcernError *WriteConcernError
	Labels            []string
}

func (e *WriteCommandError) Error() string {
	return fmt.Sprintf("write command failed: %d write error(s)", len(e.WriteErrors))
}

// Server error codes the CORE reasons about (exact integers, spec.md §6).
var (
	stateChangeCodes = map[int32]bool{10107: true, 13435: true, 10058: true}

	nodeRecoveringCodes = map[int32]bool{
		11600: true, 11602: true, 13436: true, 189: true, 91: true,
	}

	shutdownCodes = map[int32]bool{11600: true, 91: true}

	retryableReadCodes = map[int32]bool{
		11600: true, 11602: true, 10107: true, 13435: true, 13436: true,
		189: true, 91: true, 7: true, 6: true, 89: true, 9001: true,
		134: true, 262: true,
	}

	// retryableWriteCodes is retryableReadCodes minus 134
	// (ReadConcernMajorityNotAvailableYet, a read-side condition, per spec.md §6 "(same minus 134,
	// plus conditions)").
	retryableWriteCodes = func() map[int32]bool {
		m := map[int32]bool{}
		for k, v := range retryableReadCodes {
			if k != 134 {
				m[k] = v
			}
		}
		return m
	}()

	unknownCommitCodes = map[int32]bool{50: true, 64: true, 91: true}
)

const (
	codeCursorNotFound          = 43
	codeCursorKilled            = 237
	codeReauthenticationRequired = 391
	codeNamespaceNotFound       = 26
)

// IsStateChange reports whether code signals a leadership/readiness change.
func IsStateChange(code int32) bool { return stateChangeCodes[code] }

// IsNodeRecovering reports whether code signals the node is mid-election or
// stepping down.
func IsNodeRecovering(code int32) bool { return nodeRecoveringCodes[code] }

// IsShutdown reports whether code signals the server is shutting down.
func IsShutdown(code int32) bool { return shutdownCodes[code] }

// IsRetryableRead reports whether code is safe to retry a read against.
func IsRetryableRead(code int32) bool { return retryableReadCodes[code] }

// IsRetryableWrite reports whether code is safe to retry a write against.
func IsRetryableWrite(code int32) bool { return retryableWriteCodes[code] }

// IsUnknownCommitResult reports whether a commitTransaction error leaves the
// commit's outcome ambiguous.
func IsUnknownCommitResult(code int32) bool { return unknownCommitCodes[code] }

// IsCursorNotFound/IsCursorKilled/IsNamespaceNotFound/IsReauthRequired test
// the remaining individually-significant codes.
func IsCursorNotFound(code int32) bool  { return code == codeCursorNotFound }
func IsCursorKilled(code int32) bool    { return code == codeCursorKilled }
func IsNamespaceNotFound(code int32) bool { return code == codeNamespaceNotFound }
func IsReauthRequired(code int32) bool  { return code == codeReauthenticationRequired }
