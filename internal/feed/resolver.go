package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Rajchodisetti/trading-dashboard/internal/adapters"
	"github.com/Rajchodisetti/trading-dashboard/internal/notify"
	"github.com/Rajchodisetti/trading-dashboard/internal/observ"
)

// Resolver walks the source chain primary -> collector -> synthetic. Tiers are
// tried strictly in order and never raced.
type Resolver struct {
	stream          string
	primary         adapters.Source
	collector       adapters.Source
	primaryMarket   string
	collectorMarket string
	validator       adapters.PayloadValidator
	synth           *adapters.SyntheticGenerator
	sink            notify.Sink
	now             func() time.Time
	health          map[string]*adapters.SourceHealth

	mu       sync.Mutex
	lastTier adapters.Tier
}

// NewResolver builds a resolver for one stream. A nil sink discards toasts.
func NewResolver(stream string, chain adapters.Chain, synth *adapters.SyntheticGenerator, sink notify.Sink) *Resolver {
	if synth == nil {
		synth = adapters.NewSyntheticGenerator()
	}
	if sink == nil {
		sink = notify.Discard
	}
	return &Resolver{
		stream:          stream,
		primary:         chain.Primary,
		collector:       chain.Collector,
		primaryMarket:   chain.PrimaryMarket,
		collectorMarket: chain.CollectorMarket,
		validator:       chain.Validator,
		synth:           synth,
		sink:            sink,
		now:             time.Now,
		health: map[string]*adapters.SourceHealth{
			"primary":   adapters.NewSourceHealth(stream + "/primary"),
			"collector": adapters.NewSourceHealth(stream + "/collector"),
		},
	}
}

// Health reports per-tier source health, primary first.
func (r *Resolver) Health() []adapters.HealthReport {
	return []adapters.HealthReport{r.health["primary"].Report(), r.health["collector"].Report()}
}

// Resolve never fails: when both remote tiers fail the outcome carries
// synthetic records and a descriptive error.
func (r *Resolver) Resolve(ctx context.Context) adapters.FetchOutcome {
	out, err := r.ResolveRemote(ctx)
	if err != nil {
		return r.Synthesize(fmt.Sprintf("all remote sources failed: %v", err))
	}
	return out
}

// ResolveRemote tries the two remote tiers and returns an error only when both fail.
func (r *Resolver) ResolveRemote(ctx context.Context) (adapters.FetchOutcome, error) {
	start := time.Now()
	defer func() {
		observ.RecordDuration("resolve_remote", time.Since(start), map[string]string{"stream": r.stream})
	}()

	records, primaryErr := r.fetchTier(ctx, "primary", r.primary, r.primaryMarket)
	if primaryErr == nil {
		out := adapters.NewOutcome(records, adapters.TierPrimary, "")
		r.served(out, fmt.Sprintf("Loaded %d records from the primary source.", len(records)))
		return out, nil
	}
	r.recordFailure(adapters.TierPrimary, primaryErr)

	records, collectorErr := r.fetchTier(ctx, "collector", r.collector, r.collectorMarket)
	if collectorErr == nil {
		out := adapters.NewOutcome(records, adapters.TierFallback, "")
		r.served(out, fmt.Sprintf("Primary source unavailable; loaded %d records from the backup collector.", len(records)))
		return out, nil
	}
	r.recordFailure(adapters.TierFallback, collectorErr)

	return adapters.FetchOutcome{}, errors.Join(primaryErr, collectorErr)
}

// Synthesize returns generated records tagged emergency. An empty reason marks
// deliberate simulation: no error is attached and no toast is sent.
func (r *Resolver) Synthesize(reason string) adapters.FetchOutcome {
	out := adapters.NewOutcome(r.synth.Generate(), adapters.TierEmergency, reason)
	if reason == "" {
		observ.IncCounter("tier_served_total", map[string]string{"stream": r.stream, "tier": "simulated"})
		return out
	}
	r.served(out, reason)
	return out
}

func (r *Resolver) fetchTier(ctx context.Context, label string, src adapters.Source, market string) (records []adapters.MarketRecord, err error) {
	if src == nil {
		return nil, adapters.NewProviderError(label, "source not configured", nil)
	}
	health := r.health[label]
	start := time.Now()
	defer func() {
		if err != nil {
			health.RecordError(err)
		} else {
			health.RecordSuccess(time.Since(start))
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			err = adapters.NewProviderError(label, fmt.Sprintf("source panicked: %v", p), nil)
		}
	}()

	raw, err := src.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	if r.validator != nil {
		cleaned, verr := r.validator.Validate(ctx, label, raw)
		switch {
		case verr == nil:
			raw = cleaned
		case adapters.ErrorKind(verr) == "rejected":
			return nil, verr
		default:
			observ.Log("validator_unavailable", map[string]any{
				"stream": r.stream,
				"source": label,
				"error":  verr.Error(),
				"level":  "warn",
			})
		}
	}

	return adapters.ParseRecords(label, market, raw, r.now())
}

func (r *Resolver) recordFailure(tier adapters.Tier, err error) {
	kind := adapters.ErrorKind(err)
	if kind == "" {
		kind = "unknown"
	}
	observ.Log("tier_failed", map[string]any{
		"stream": r.stream,
		"tier":   string(tier),
		"kind":   kind,
		"error":  err.Error(),
		"level":  "warn",
	})
	observ.IncCounter("source_failures_total", map[string]string{"stream": r.stream, "tier": string(tier), "kind": kind})
}

// served logs the tier and sends a toast when the serving tier changes.
func (r *Resolver) served(out adapters.FetchOutcome, detail string) {
	observ.IncCounter("tier_served_total", map[string]string{"stream": r.stream, "tier": string(out.Tier)})
	observ.Log("tier_served", map[string]any{
		"stream":  r.stream,
		"tier":    string(out.Tier),
		"records": len(out.Records),
	})

	r.mu.Lock()
	changed := r.lastTier != out.Tier
	r.lastTier = out.Tier
	r.mu.Unlock()
	if !changed {
		return
	}

	switch out.Tier {
	case adapters.TierPrimary:
		notify.Send(r.sink, "Live market data", detail, notify.VariantDefault)
	case adapters.TierFallback:
		notify.Send(r.sink, "Using backup data source", detail, notify.VariantWarning)
	case adapters.TierEmergency:
		notify.Send(r.sink, "Using simulated data", detail, notify.VariantDestructive)
	}
}
