package lwm2m

import (
	"encoding/hex"
	"time"

	"github.com/funahara/lwm2mcore/pkg/metrics"
)

// ExchangeLifetime bounds how long a partially-reassembled block1 body or
// a paused block2 snapshot is kept before being evicted, per RFC7252's
// EXCHANGE_LIFETIME guidance (§4.8.2) applied to the LwM2M block layer.
const ExchangeLifetime = 247 * time.Second

// block1Entry accumulates an inbound Block1 transfer (Write, Create,
// Bootstrap-Write) keyed by request token.
type block1Entry struct {
	body     []byte
	lastSeen time.Time
	format   int
}

// block2Entry holds a finished response body, paginated out over
// successive Block2 GETs keyed by request token.
type block2Entry struct {
	body     []byte
	szx      uint16
	lastSeen time.Time
}

// ExchangeManager is the C9 block/exchange manager: inbound-block1
// reassembly and outbound-block2 pagination, both keyed by CoAP token,
// with idle-eviction.
type ExchangeManager struct {
	inbound  map[string]*block1Entry
	outbound map[string]*block2Entry
}

func NewExchangeManager() *ExchangeManager {
	return &ExchangeManager{
		inbound:  map[string]*block1Entry{},
		outbound: map[string]*block2Entry{},
	}
}

func tokenKey(token []byte) string { return hex.EncodeToString(token) }

// AppendBlock1 folds one Block1 fragment into the reassembly buffer for
// token. Returns the full body and true once the final (more=false)
// block has arrived; otherwise returns (nil, false) and the caller
// should answer 2.31 Continue.
func (em *ExchangeManager) AppendBlock1(token []byte, block BlockValue, fragment []byte, format int, now time.Time) ([]byte, bool, error) {
	key := tokenKey(token)
	entry, ok := em.inbound[key]
	if !ok {
		if block.Num != 0 {
			return nil, false, NewOpError(KindEntityIncomplete, nil) // unknown token, non-zero block
		}
		entry = &block1Entry{format: format}
		em.inbound[key] = entry
		metrics.BlockTransfersInFlight.WithLabelValues("in").Inc()
	}
	expected := uint32(len(entry.body)) / uint32(block.Size)
	if block.Num != expected {
		delete(em.inbound, key)
		metrics.BlockTransfersInFlight.WithLabelValues("in").Dec()
		return nil, false, NewOpError(KindEntityIncomplete, nil)
	}
	entry.body = append(entry.body, fragment...)
	entry.lastSeen = now

	if block.More {
		return nil, false, nil
	}
	delete(em.inbound, key)
	metrics.BlockTransfersInFlight.WithLabelValues("in").Dec()
	return entry.body, true, nil
}

// PrepareBlock2 stores a finished response body for block2 pagination and
// returns the first slice, the BlockValue describing it, and whether more
// blocks remain.
func (em *ExchangeManager) PrepareBlock2(token []byte, body []byte, szx uint16, now time.Time) ([]byte, BlockValue, bool) {
	if len(body) <= int(szx) {
		return body, BlockValue{Num: 0, More: false, Size: szx}, false
	}
	key := tokenKey(token)
	em.outbound[key] = &block2Entry{body: body, szx: szx, lastSeen: now}
	metrics.BlockTransfersInFlight.WithLabelValues("out").Inc()
	slice, bv, more := sliceBlock2(body, 0, szx)
	return slice, bv, more
}

// NextBlock2 returns the requested Block2 slice for an in-progress
// outbound transfer, or (nil, false) if the token is unknown (the caller
// should answer 4.08).
func (em *ExchangeManager) NextBlock2(token []byte, num uint32, szx uint16, now time.Time) ([]byte, BlockValue, bool) {
	key := tokenKey(token)
	entry, ok := em.outbound[key]
	if !ok {
		return nil, BlockValue{}, false
	}
	entry.lastSeen = now
	slice, bv, inRange := sliceBlock2(entry.body, num, szx)
	if !inRange || !bv.More {
		delete(em.outbound, key)
		metrics.BlockTransfersInFlight.WithLabelValues("out").Dec()
	}
	return slice, bv, true
}

func sliceBlock2(body []byte, num uint32, szx uint16) ([]byte, BlockValue, bool) {
	start := int(num) * int(szx)
	if start >= len(body) {
		return nil, BlockValue{Num: num, Size: szx}, false
	}
	end := start + int(szx)
	more := end < len(body)
	if end > len(body) {
		end = len(body)
	}
	return body[start:end], BlockValue{Num: num, More: more, Size: szx}, true
}

// Evict drops any reassembly/pagination state idle longer than
// ExchangeLifetime.
func (em *ExchangeManager) Evict(now time.Time) {
	for k, e := range em.inbound {
		if now.Sub(e.lastSeen) > ExchangeLifetime {
			delete(em.inbound, k)
			metrics.BlockTransfersInFlight.WithLabelValues("in").Dec()
		}
	}
	for k, e := range em.outbound {
		if now.Sub(e.lastSeen) > ExchangeLifetime {
			delete(em.outbound, k)
			metrics.BlockTransfersInFlight.WithLabelValues("out").Dec()
		}
	}
}
