// Package record stores walk sessions in sqlite: estop changes, foot states,
// body halts and sampled restriction.
package record

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/gwillem/stompy/pkg/gait"
	"github.com/gwillem/stompy/pkg/leg"
)

var log = logrus.WithField("pkg", "record")

const schema = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		started_ms INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS estop_events (
		session_id TEXT NOT NULL,
		leg INTEGER NOT NULL,
		level TEXT NOT NULL,
		ts_ms INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS foot_states (
		session_id TEXT NOT NULL,
		leg INTEGER NOT NULL,
		state TEXT NOT NULL,
		previous TEXT NOT NULL,
		ts_ms INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS body_events (
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		center_x DOUBLE,
		center_y DOUBLE,
		speed DOUBLE,
		dz DOUBLE,
		ts_ms INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS restrictions (
		session_id TEXT NOT NULL,
		leg INTEGER NOT NULL,
		r DOUBLE NOT NULL,
		ts_ms INTEGER NOT NULL
	);
`

// DefaultSampleInterval is the minimum spacing of stored restriction samples per leg.
const DefaultSampleInterval = 100 * time.Millisecond

const queueSize = 1024

type row struct {
	query string
	args  []any
}

// Recorder writes events on its own goroutine so leg loops never wait on disk.
type Recorder struct {
	db      *sql.DB
	session string
	// SampleInterval throttles restriction samples.
	SampleInterval time.Duration

	queue chan row
	done  chan struct{}

	mu         sync.RWMutex
	closed     bool
	cancels    []func()
	lastSample map[int]time.Time
}

// Open creates or opens the database at path and starts a new session.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One connection keeps the pragmas and serializes writes.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	r := &Recorder{
		db:             db,
		session:        uuid.NewString(),
		SampleInterval: DefaultSampleInterval,
		queue:          make(chan row, queueSize),
		done:           make(chan struct{}),
		lastSample:     make(map[int]time.Time),
	}
	if _, err := db.Exec("INSERT INTO sessions (session_id, started_ms) VALUES (?, ?)",
		r.session, time.Now().UnixMilli()); err != nil {
		db.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}
	go r.writer()
	log.WithField("session", r.session).Info("recording")
	return r, nil
}

// Session returns the id every row of this run is tagged with.
func (r *Recorder) Session() string {
	return r.session
}

// DB exposes the database for queries.
func (r *Recorder) DB() *sql.DB {
	return r.db
}

func (r *Recorder) writer() {
	defer close(r.done)
	for w := range r.queue {
		if _, err := r.db.Exec(w.query, w.args...); err != nil {
			log.WithError(err).WithField("query", w.query).Error("write")
		}
	}
}

func (r *Recorder) enqueue(query string, args ...any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- row{query: query, args: append([]any{r.session}, args...)}:
	default:
		log.Warn("record queue full, dropping")
	}
}

// Estop records an estop level change.
func (r *Recorder) Estop(n int, level leg.Estop, t time.Time) {
	r.enqueue("INSERT INTO estop_events (session_id, leg, level, ts_ms) VALUES (?, ?, ?, ?)",
		n, level.String(), t.UnixMilli())
}

// FootState records a foot state change.
func (r *Recorder) FootState(e gait.FootEvent) {
	r.enqueue("INSERT INTO foot_states (session_id, leg, state, previous, ts_ms) VALUES (?, ?, ?, ?, ?)",
		e.Leg, e.State.String(), e.Previous.String(), e.Time.UnixMilli())
}

// Body records a body event with the target in effect after it.
func (r *Recorder) Body(e gait.BodyEvent) {
	t := e.Target
	r.enqueue("INSERT INTO body_events (session_id, kind, center_x, center_y, speed, dz, ts_ms) VALUES (?, ?, ?, ?, ?, ?, ?)",
		e.Kind.String(), t.RotationCenter[0], t.RotationCenter[1], t.Speed, t.DZ, e.Time.UnixMilli())
}

// Restriction records a restriction sample unless one was stored for the
// same leg less than SampleInterval ago.
func (r *Recorder) Restriction(n int, value float64, t time.Time) {
	r.mu.Lock()
	last, ok := r.lastSample[n]
	if ok && t.Sub(last) < r.SampleInterval {
		r.mu.Unlock()
		return
	}
	r.lastSample[n] = t
	r.mu.Unlock()
	r.enqueue("INSERT INTO restrictions (session_id, leg, r, ts_ms) VALUES (?, ?, ?, ?)",
		n, value, t.UnixMilli())
}

// Attach subscribes to estop changes of every leg, every foot and the body.
func (r *Recorder) Attach(legs map[int]leg.Controller, body *gait.Body) {
	var cancels []func()
	for n, l := range legs {
		cancels = append(cancels, l.Subscribe(func(e leg.Event) {
			r.Estop(n, e.Estop, e.Time)
		}, leg.EventEstop))
	}
	if body != nil {
		for _, f := range body.Feet() {
			cancels = append(cancels, f.Subscribe(func(e gait.FootEvent) {
				switch e.Kind {
				case gait.FootState:
					r.FootState(e)
				case gait.FootRestriction:
					r.Restriction(e.Leg, e.Restriction, e.Time)
				}
			}))
		}
		cancels = append(cancels, body.Subscribe(r.Body))
	}
	r.mu.Lock()
	r.cancels = append(r.cancels, cancels...)
	r.mu.Unlock()
}

// Counts returns the number of rows per table for this session.
func (r *Recorder) Counts() (map[string]int, error) {
	out := make(map[string]int)
	for _, table := range []string{"estop_events", "foot_states", "body_events", "restrictions"} {
		var n int
		err := r.db.QueryRow("SELECT COUNT(*) FROM "+table+" WHERE session_id = ?", r.session).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

// Flush waits until every queued row is written. It closes the recorder for
// new events.
func (r *Recorder) Flush() {
	r.mu.Lock()
	cancels := r.cancels
	r.cancels = nil
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	<-r.done
}

// Close flushes pending rows and closes the database.
func (r *Recorder) Close() error {
	r.Flush()
	return r.db.Close()
}
