package connection

import (
	"regexp"
	"sync"
	"time"

	"github.com/echobridge/alexaremote/internal/common/cnst"
	"github.com/echobridge/alexaremote/internal/connection/jsons"
	"github.com/echobridge/alexaremote/pkg/metrics"
	"go.uber.org/zap"
)

// batchKey identifies one piece of content being coalesced. Text-to-speech
// keys use only the Speak field. An explicit composite key avoids the
// collision ambiguity of hashed keys.
type batchKey struct {
	Speak string
	Body  string
	Title string
}

// batchEntry accumulates the devices and volumes of all calls sharing one
// content key within a debounce window. Volume slices stay positionally
// aligned with the device list.
type batchEntry struct {
	key             batchKey
	devices         []jsons.Device
	ttsVolumes      []*int
	standardVolumes []*int
}

// speechQueue debounces bursts of announcement or text-to-speech calls,
// coalesces them per content key and drains one batch at a time with a
// cooldown between drains. All mutation happens under one mutex; scheduled
// continuations carry a generation counter so reset invalidates them, and
// each armed debounce timer carries its own token so a restarted window
// discards a flush that already fired.
type speechQueue struct {
	name     string
	debounce time.Duration
	cooldown time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	send     func(*batchEntry) error

	mu      sync.Mutex
	gen     uint64
	arm     uint64
	pending map[batchKey]*batchEntry
	order   []batchKey
	timer   *time.Timer
	drain   []*batchEntry
	running bool
}

func newSpeechQueue(name string, debounce, cooldown time.Duration, logger *zap.Logger, m *metrics.Metrics, send func(*batchEntry) error) *speechQueue {
	return &speechQueue{
		name:     name,
		debounce: debounce,
		cooldown: cooldown,
		logger:   logger.Named("connection.queue." + name),
		metrics:  m,
		send:     send,
		pending:  make(map[batchKey]*batchEntry),
	}
}

// add records one call and restarts the debounce timer.
func (q *speechQueue) add(key batchKey, device jsons.Device, ttsVolume, standardVolume *int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Stop alone does not cover a timer whose callback already fired and
	// is waiting on the mutex; the stale arm token catches that one.
	if q.timer != nil {
		q.timer.Stop()
	}
	q.arm++
	entry, ok := q.pending[key]
	if !ok {
		entry = &batchEntry{key: key}
		q.pending[key] = entry
		q.order = append(q.order, key)
	}
	entry.devices = append(entry.devices, device)
	entry.ttsVolumes = append(entry.ttsVolumes, ttsVolume)
	entry.standardVolumes = append(entry.standardVolumes, standardVolume)

	gen, arm := q.gen, q.arm
	q.timer = time.AfterFunc(q.debounce, func() { q.flush(gen, arm) })
}

// flush moves every pending entry into the drain queue and starts draining
// unless a drain is already running.
func (q *speechQueue) flush(gen, arm uint64) {
	q.mu.Lock()
	if gen != q.gen || arm != q.arm {
		q.mu.Unlock()
		return
	}
	for _, key := range q.order {
		q.drain = append(q.drain, q.pending[key])
	}
	q.pending = make(map[batchKey]*batchEntry)
	q.order = nil
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()

	if start {
		q.drainNext(gen)
	}
}

// drainNext sends one batch. The cooldown before the next drain is armed in
// all cases, including a failing send.
func (q *speechQueue) drainNext(gen uint64) {
	q.mu.Lock()
	if gen != q.gen {
		q.mu.Unlock()
		return
	}
	if len(q.drain) == 0 {
		q.running = false
		q.mu.Unlock()
		return
	}
	entry := q.drain[0]
	q.drain = q.drain[1:]
	q.mu.Unlock()

	defer time.AfterFunc(q.cooldown, func() { q.drainNext(gen) })

	if q.metrics != nil {
		q.metrics.BatchDrained(q.name, len(entry.devices))
	}
	if err := q.send(entry); err != nil {
		q.logger.Warn("sending batch failed", zap.Error(err))
	}
}

// deviceQueued reports whether the device appears in any still-pending or
// still-queued entry.
func (q *speechQueue) deviceQueued(serial string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, entry := range q.pending {
		for _, device := range entry.devices {
			if device.SerialNumber == serial {
				return true
			}
		}
	}
	for _, entry := range q.drain {
		for _, device := range entry.devices {
			if device.SerialNumber == serial {
				return true
			}
		}
	}
	return false
}

// idle reports whether nothing is pending or draining.
func (q *speechQueue) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0 && len(q.drain) == 0 && !q.running
}

// reset cancels the debounce timer, drops all accumulated state and
// invalidates every scheduled continuation.
func (q *speechQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.gen++
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.pending = make(map[batchKey]*batchEntry)
	q.order = nil
	q.drain = nil
	q.running = false
}

// sequenceQueue dispatches automation nodes one at a time. There is no
// debounce; the cooldown between nodes grows with the spoken text length so
// the next automation is not submitted mid-utterance.
type sequenceQueue struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	submit  func(SequenceNode)

	mu      sync.Mutex
	gen     uint64
	queue   []SequenceNode
	running bool
}

func newSequenceQueue(logger *zap.Logger, m *metrics.Metrics, submit func(SequenceNode)) *sequenceQueue {
	return &sequenceQueue{
		logger:  logger.Named("connection.queue.sequence"),
		metrics: m,
		submit:  submit,
	}
}

func (s *sequenceQueue) enqueue(node SequenceNode) {
	s.mu.Lock()
	s.queue = append(s.queue, node)
	start := !s.running
	if start {
		s.running = true
	}
	gen := s.gen
	s.mu.Unlock()

	if start {
		s.drainNext(gen)
	}
}

func (s *sequenceQueue) drainNext(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if len(s.queue) == 0 {
		s.running = false
		s.mu.Unlock()
		return
	}
	node := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()

	defer time.AfterFunc(nodeDelay(node), func() { s.drainNext(gen) })

	if s.metrics != nil {
		s.metrics.BatchDrained("sequence", 1)
	}
	s.submit(node)
}

// nodeDelay is the cooldown armed after a node is submitted. Spoken nodes
// wait longer in proportion to the utterance length.
func nodeDelay(node SequenceNode) time.Duration {
	delay := cnst.SequenceNodeCooldown
	if text := speechText(node); text != "" {
		delay += time.Duration(len(text)) * cnst.PerCharacterDelay
	}
	return delay
}

// idle reports whether nothing is queued or cooling down.
func (s *sequenceQueue) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) == 0 && !s.running
}

func (s *sequenceQueue) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.queue = nil
	s.running = false
}

var tagPattern = regexp.MustCompile("<.+?>")

// stripTags removes markup so empty utterances can be rejected and display
// bodies derived.
func stripTags(text string) string {
	return tagPattern.ReplaceAllString(text, "")
}
