package lwm2m

import (
	"time"

	"github.com/funahara/lwm2mcore/pkg/metrics"
)

// ObsHandle stably identifies an Observation independent of its slice
// position, avoiding the cyclic references a direct pointer-web would
// need between Observation and Registry.
type ObsHandle uint64

// Attributes are the notification-control parameters a server can attach
// via Write-Attributes, inherited from ancestor paths where unset.
type Attributes struct {
	Pmin  *time.Duration
	Pmax  *time.Duration
	Lt    *float64
	Gt    *float64
	St    *float64
	Epmin *time.Duration
	Epmax *time.Duration
	Con   *bool
	Hqmax *time.Duration
}

// merge layers child over base, child's set fields winning.
func (base Attributes) merge(child Attributes) Attributes {
	out := base
	if child.Pmin != nil {
		out.Pmin = child.Pmin
	}
	if child.Pmax != nil {
		out.Pmax = child.Pmax
	}
	if child.Lt != nil {
		out.Lt = child.Lt
	}
	if child.Gt != nil {
		out.Gt = child.Gt
	}
	if child.St != nil {
		out.St = child.St
	}
	if child.Epmin != nil {
		out.Epmin = child.Epmin
	}
	if child.Epmax != nil {
		out.Epmax = child.Epmax
	}
	if child.Con != nil {
		out.Con = child.Con
	}
	if child.Hqmax != nil {
		out.Hqmax = child.Hqmax
	}
	return out
}

// Observation tracks one active Observe registration on a Path.
type Observation struct {
	Handle       ObsHandle
	Path         Path
	Token        []byte
	Attrs        Attributes
	SeqNum       uint32 // 24-bit counter, RFC7641 §4.4
	LastNotified time.Time
	LastValue    Value
	haveLast     bool
}

// nextSeqNum advances the 24-bit observe sequence number, wrapping per
// RFC7641 §4.4 (serial-number arithmetic, modulo 2^24).
func (o *Observation) nextSeqNum() uint32 {
	o.SeqNum = (o.SeqNum + 1) & 0xFFFFFF
	return o.SeqNum
}

// ObserveRegistry owns every active Observation, addressed by stable
// handle, with attribute inheritance resolved against a Registry's path
// tree (C8).
type ObserveRegistry struct {
	next    ObsHandle
	byToken map[string]*Observation
	attrs   map[string]Attributes // path string -> attrs set directly on it
}

func NewObserveRegistry() *ObserveRegistry {
	return &ObserveRegistry{
		byToken: map[string]*Observation{},
		attrs:   map[string]Attributes{},
	}
}

// SetAttributes records Write-Attributes for p, overwriting any prior
// attributes set directly on that exact path.
func (r *ObserveRegistry) SetAttributes(p Path, a Attributes) {
	r.attrs[p.String()] = a
}

// ResolvedAttributes walks from root to p, merging inherited attributes
// per §4.8's inheritance rule (closer path wins).
func (r *ObserveRegistry) ResolvedAttributes(p Path) Attributes {
	var resolved Attributes
	cur := RootPath()
	resolved = resolved.merge(r.attrs[cur.String()])
	for i := 0; i < p.Depth(); i++ {
		cur = cur.Child(idAt(p, i))
		resolved = resolved.merge(r.attrs[cur.String()])
	}
	return resolved
}

func idAt(p Path, i int) uint16 {
	switch i {
	case 0:
		return p.OID()
	case 1:
		return p.IID()
	case 2:
		return p.RID()
	default:
		return p.RIID()
	}
}

// Start registers a new Observation on p with token, returning its handle.
func (r *ObserveRegistry) Start(p Path, token []byte, now time.Time) *Observation {
	r.next++
	obs := &Observation{
		Handle:       r.next,
		Path:         p,
		Token:        append([]byte(nil), token...),
		Attrs:        r.ResolvedAttributes(p),
		LastNotified: now,
	}
	r.byToken[tokenKey(token)] = obs
	metrics.ActiveObservations.Inc()
	return obs
}

// Cancel removes the Observation keyed by token, if any.
func (r *ObserveRegistry) Cancel(token []byte) {
	key := tokenKey(token)
	if _, ok := r.byToken[key]; ok {
		delete(r.byToken, key)
		metrics.ActiveObservations.Dec()
	}
}

func (r *ObserveRegistry) Lookup(token []byte) (*Observation, bool) {
	o, ok := r.byToken[tokenKey(token)]
	return o, ok
}

// All returns every active Observation, in no particular order; callers
// needing determinism should sort by Handle.
func (r *ObserveRegistry) All() []*Observation {
	out := make([]*Observation, 0, len(r.byToken))
	for _, o := range r.byToken {
		out = append(out, o)
	}
	return out
}

// NotifyReason records why ShouldNotify fired, for the notifications_sent
// metric's label.
type NotifyReason string

const (
	ReasonThreshold NotifyReason = "threshold"
	ReasonPmax      NotifyReason = "pmax"
	ReasonStep      NotifyReason = "step"
)

// ShouldNotify evaluates o's attributes against a freshly read value at
// now, per §4.8: pmin throttles, pmax forces, lt/gt/st gate on value
// change magnitude. Returns the reason and true if a notification should
// be emitted now.
func (o *Observation) ShouldNotify(v Value, now time.Time) (NotifyReason, bool) {
	elapsed := now.Sub(o.LastNotified)

	if o.Attrs.Pmax != nil && elapsed >= *o.Attrs.Pmax {
		return ReasonPmax, true
	}
	if o.Attrs.Pmin != nil && elapsed < *o.Attrs.Pmin {
		return "", false
	}
	if !o.haveLast {
		return ReasonThreshold, true
	}
	if !valuesEqual(o.LastValue, v) {
		if o.Attrs.Lt == nil && o.Attrs.Gt == nil && o.Attrs.St == nil {
			return ReasonThreshold, true
		}
		f, ok := asFloat(v)
		last, lok := asFloat(o.LastValue)
		if !ok || !lok {
			return ReasonThreshold, true
		}
		if o.Attrs.Lt != nil && f <= *o.Attrs.Lt && last > *o.Attrs.Lt {
			return ReasonThreshold, true
		}
		if o.Attrs.Gt != nil && f >= *o.Attrs.Gt && last < *o.Attrs.Gt {
			return ReasonThreshold, true
		}
		if o.Attrs.St != nil {
			diff := f - last
			if diff < 0 {
				diff = -diff
			}
			if diff >= *o.Attrs.St {
				return ReasonStep, true
			}
		}
	}
	return "", false
}

// Record updates the cached last-notified state after a notification is
// actually sent.
func (o *Observation) Record(v Value, now time.Time, reason NotifyReason) {
	o.LastValue = v
	o.haveLast = true
	o.LastNotified = now
	metrics.NotificationsSent.WithLabelValues(string(reason)).Inc()
}

func valuesEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindInt:
		return a.Int == b.Int
	case KindUInt:
		return a.UInt == b.UInt
	case KindFloat:
		return a.Float == b.Float
	case KindBool:
		return a.Bool == b.Bool
	case KindString:
		return a.Str == b.Str
	case KindTime:
		return a.Time == b.Time
	default:
		return false
	}
}

func asFloat(v Value) (float64, bool) {
	switch v.Kind {
	case KindFloat:
		return v.Float, true
	case KindInt:
		return float64(v.Int), true
	case KindUInt:
		return float64(v.UInt), true
	default:
		return 0, false
	}
}
