package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
)

// Source is an opaque remote market-data endpoint. Fetch returns the raw payload;
// normalization and validation happen in the caller.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (json.RawMessage, error)
}

// Prober performs a lightweight liveness call against a remote endpoint.
type Prober interface {
	Probe(ctx context.Context) error
}

// MarketRecord is one normalized row of the market table
type MarketRecord struct {
	Market      string  `json:"market" validate:"required"`
	Symbol      string  `json:"symbol" validate:"required"`
	Name        string  `json:"name,omitempty"`
	Price       float64 `json:"price" validate:"gt=0"`
	Change24h   float64 `json:"change24h"`
	Volume      float64 `json:"volume" validate:"gte=0"`
	MarketCap   float64 `json:"marketCap" validate:"gte=0"`
	High24h     float64 `json:"high24h" validate:"gte=0"`
	Low24h      float64 `json:"low24h" validate:"gte=0"`
	Timestamp   int64   `json:"timestamp"`   // unix millis
	LastUpdated string  `json:"lastUpdated"` // RFC3339
}

// WithinRange reports the soft invariant high24h >= price >= low24h.
func (r MarketRecord) WithinRange() bool {
	return r.High24h >= r.Price && r.Price >= r.Low24h
}

// Tier identifies which link of the source chain served a batch.
type Tier string

const (
	TierPrimary   Tier = "primary"
	TierFallback  Tier = "fallback"
	TierEmergency Tier = "emergency"
)

// FetchOutcome is the result of one resolved attempt. Callers must treat it as read-only.
type FetchOutcome struct {
	Records []MarketRecord
	Tier    Tier
	Error   optional.Option[string]
}

// NewOutcome builds an outcome; an empty errMsg means no error.
func NewOutcome(records []MarketRecord, tier Tier, errMsg string) FetchOutcome {
	out := FetchOutcome{Records: records, Tier: tier, Error: optional.None[string]()}
	if errMsg != "" {
		out.Error = optional.Some(errMsg)
	}
	return out
}

// ErrorString returns the error message or "".
func (o FetchOutcome) ErrorString() string {
	if o.Error.IsNone() {
		return ""
	}
	return o.Error.Unwrap()
}

type outcomeJSON struct {
	Records    []MarketRecord `json:"records"`
	SourceTier Tier           `json:"sourceTier"`
	Error      *string        `json:"error"`
}

func (o FetchOutcome) MarshalJSON() ([]byte, error) {
	out := outcomeJSON{Records: o.Records, SourceTier: o.Tier}
	if o.Error.IsSome() {
		msg := o.Error.Unwrap()
		out.Error = &msg
	}
	if out.Records == nil {
		out.Records = []MarketRecord{}
	}
	return json.Marshal(out)
}

func (o *FetchOutcome) UnmarshalJSON(b []byte) error {
	var in outcomeJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	msg := ""
	if in.Error != nil {
		msg = *in.Error
	}
	*o = NewOutcome(in.Records, in.SourceTier, msg)
	return nil
}

var recordValidator = validator.New()

// ValidateRecords checks the structural contract of a normalized batch:
// non-empty and every record satisfies its field constraints.
func ValidateRecords(source string, records []MarketRecord) error {
	if len(records) == 0 {
		return NewEmptyPayloadError(source)
	}
	for i := range records {
		if err := recordValidator.Struct(records[i]); err != nil {
			return NewMalformedError(source, fmt.Sprintf("record %d (%s)", i, records[i].Symbol), err)
		}
	}
	return nil
}

// SourceError classifies a failure of one tier
type SourceError struct {
	Kind    string // "network", "provider_error", "malformed", "empty", "rejected"
	Source  string
	Message string
	Cause   error
}

func (e *SourceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error from %s: %s (%v)", e.Kind, e.Source, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error from %s: %s", e.Kind, e.Source, e.Message)
}

func (e *SourceError) Unwrap() error { return e.Cause }

// Common error constructors
func NewNetworkError(source, message string, cause error) *SourceError {
	return &SourceError{Kind: "network", Source: source, Message: message, Cause: cause}
}

func NewProviderError(source, message string, cause error) *SourceError {
	return &SourceError{Kind: "provider_error", Source: source, Message: message, Cause: cause}
}

func NewMalformedError(source, message string, cause error) *SourceError {
	return &SourceError{Kind: "malformed", Source: source, Message: message, Cause: cause}
}

func NewEmptyPayloadError(source string) *SourceError {
	return &SourceError{Kind: "empty", Source: source, Message: "no records in payload"}
}

func NewRejectedError(source, message string) *SourceError {
	return &SourceError{Kind: "rejected", Source: source, Message: message}
}

// ErrorKind returns the SourceError kind in err's chain, or "".
func ErrorKind(err error) string {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
