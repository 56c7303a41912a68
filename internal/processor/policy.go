// policy.go implements the per-species detection acceptance rules.
package processor

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/conf"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/logging"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/observability"
)

// Verdict is the outcome of evaluating one candidate.
type Verdict int

const (
	// VerdictAccepted promotes the candidate to a Detection.
	VerdictAccepted Verdict = iota

	// VerdictBelowThreshold rejects a candidate whose confidence does not
	// exceed the configured threshold. Never changes cooldown state.
	VerdictBelowThreshold

	// VerdictDenied rejects a candidate excluded by the species lists.
	VerdictDenied

	// VerdictSuppressed records a qualifying candidate that arrived while
	// its species was in cooldown. No Detection is emitted.
	VerdictSuppressed
)

// Decision is the result of one policy evaluation. DetectionID is set
// only when the verdict is VerdictAccepted.
type Decision struct {
	Verdict       Verdict
	DetectionID   uint64
	CountInWindow int
}

// speciesCooldownState tracks one species while it is in cooldown.
// The state is discarded lazily when the next candidate for the species
// arrives after the cooldown has expired.
type speciesCooldownState struct {
	lastAcceptedAt  time.Time
	lastCandidateAt time.Time
	countInWindow   int
}

// DetectionPolicy turns ranked candidates into accepted detections.
// Each species moves through an Idle to Cooldown cycle: the first
// qualifying candidate is accepted and starts the cooldown, further
// qualifying candidates for the same species only increment the
// suppression count until the cooldown expires. All cooldown state is
// mutated under a single lock, and detection IDs are assigned under the
// same lock so their order matches acceptance order.
type DetectionPolicy struct {
	threshold         float64
	speciesThresholds map[string]float64
	cooldown          time.Duration
	resetMode         string
	include           map[string]struct{}
	exclude           map[string]struct{}

	mu              sync.Mutex
	states          map[string]*speciesCooldownState
	lastDetectionID uint64

	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewDetectionPolicy builds a policy from the realtime settings.
func NewDetectionPolicy(settings *conf.Settings, metrics *observability.Metrics) *DetectionPolicy {
	dp := &DetectionPolicy{
		threshold:         settings.BirdNET.Threshold,
		speciesThresholds: speciesThresholdMap(settings.Realtime.Species.Threshold),
		cooldown:          time.Duration(settings.Realtime.Cooldown.Interval) * time.Second,
		resetMode:         settings.Realtime.Cooldown.Reset,
		include:           speciesSet(settings.Realtime.Species.Include),
		exclude:           speciesSet(settings.Realtime.Species.Exclude),
		states:            make(map[string]*speciesCooldownState),
		metrics:           metrics,
		logger:            logging.ForService("policy"),
	}
	if dp.resetMode == "" {
		dp.resetMode = conf.CooldownResetFirstAccept
	}
	return dp
}

func speciesThresholdMap(thresholds map[string]float64) map[string]float64 {
	if len(thresholds) == 0 {
		return nil
	}
	m := make(map[string]float64, len(thresholds))
	for name, threshold := range thresholds {
		m[strings.ToLower(name)] = threshold
	}
	return m
}

func speciesSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[strings.ToLower(name)] = struct{}{}
	}
	return set
}

// thresholdFor returns the confidence threshold for a species, preferring
// a per-species override over the global one.
func (dp *DetectionPolicy) thresholdFor(scientificName string) float64 {
	if t, ok := dp.speciesThresholds[strings.ToLower(scientificName)]; ok {
		return t
	}
	return dp.threshold
}

// allowed reports whether the species passes the allow and deny lists.
// An empty include list allows everything not explicitly excluded.
func (dp *DetectionPolicy) allowed(scientificName string) bool {
	key := strings.ToLower(scientificName)
	if _, denied := dp.exclude[key]; denied {
		return false
	}
	if dp.include == nil {
		return true
	}
	_, ok := dp.include[key]
	return ok
}

// Evaluate applies threshold, species lists and cooldown to a single
// candidate. Species identity is the sole grouping key: candidates for
// different species from the same window are evaluated independently.
func (dp *DetectionPolicy) Evaluate(scientificName, commonName string, confidence float64, now time.Time) Decision {
	if confidence <= dp.thresholdFor(scientificName) {
		return Decision{Verdict: VerdictBelowThreshold}
	}
	if !dp.allowed(scientificName) {
		return Decision{Verdict: VerdictDenied}
	}

	dp.mu.Lock()
	defer dp.mu.Unlock()

	state, inCooldown := dp.states[scientificName]
	if inCooldown && now.Sub(dp.cooldownAnchor(state)) >= dp.cooldown {
		delete(dp.states, scientificName)
		inCooldown = false
	}

	if inCooldown {
		state.countInWindow++
		state.lastCandidateAt = now
		if dp.metrics != nil {
			dp.metrics.CooldownSuppressions.WithLabelValues(commonName).Inc()
		}
		return Decision{Verdict: VerdictSuppressed, CountInWindow: state.countInWindow}
	}

	dp.lastDetectionID++
	dp.states[scientificName] = &speciesCooldownState{
		lastAcceptedAt:  now,
		lastCandidateAt: now,
		countInWindow:   1,
	}
	if dp.metrics != nil {
		dp.metrics.DetectionCounter.WithLabelValues(commonName).Inc()
	}
	return Decision{Verdict: VerdictAccepted, DetectionID: dp.lastDetectionID, CountInWindow: 1}
}

// cooldownAnchor returns the instant the cooldown is measured from. In
// first-accept mode the window is fixed at acceptance time; in sliding
// mode every qualifying candidate pushes it forward.
func (dp *DetectionPolicy) cooldownAnchor(state *speciesCooldownState) time.Time {
	if dp.resetMode == conf.CooldownResetSliding {
		return state.lastCandidateAt
	}
	return state.lastAcceptedAt
}

// CountInWindow returns the current suppression count for a species,
// or zero when the species is idle.
func (dp *DetectionPolicy) CountInWindow(scientificName string) int {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if state, ok := dp.states[scientificName]; ok {
		return state.countInWindow
	}
	return 0
}

// LastDetectionID returns the most recently assigned detection ID.
func (dp *DetectionPolicy) LastDetectionID() uint64 {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return dp.lastDetectionID
}
