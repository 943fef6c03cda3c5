package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// LogEntry is what a Sink receives for each emitted record.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Service   string
	Message   string
	Fields    map[string]string
	RunID     string
	Caller    string
}

// LogWriter stores a batch of entries. The run_logs table is the production
// implementation.
type LogWriter interface {
	WriteBatch(ctx context.Context, entries []LogEntry) error
}

// Sink is a secondary destination for log records.
type Sink interface {
	// Write must return without waiting on I/O.
	Write(entry LogEntry)
	Flush(ctx context.Context) error
	Close() error
}

// BatchSinkConfig tunes a BatchSink. Zero values pick the defaults.
type BatchSinkConfig struct {
	Writer LogWriter
	// BufferSize caps queued entries; 1000.
	BufferSize int
	// BatchSize caps entries per WriteBatch; 100.
	BatchSize int
	// FlushInterval is the idle flush period; 2s.
	FlushInterval time.Duration
}

const batchWriteTimeout = 5 * time.Second

// BatchSink queues entries and hands them to a LogWriter in batches from a
// single goroutine. When the queue is full new entries are dropped and
// counted.
type BatchSink struct {
	w        LogWriter
	queue    chan LogEntry
	flushes  chan chan error
	stop     chan struct{}
	stopped  chan struct{}
	interval time.Duration
	max      int

	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Int64
}

// NewBatchSink starts the writer goroutine. It panics on a nil Writer.
func NewBatchSink(cfg BatchSinkConfig) *BatchSink {
	if cfg.Writer == nil {
		panic("logging: NewBatchSink called with nil Writer")
	}
	s := &BatchSink{
		w:        cfg.Writer,
		queue:    make(chan LogEntry, positive(cfg.BufferSize, 1000)),
		flushes:  make(chan chan error),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		interval: cfg.FlushInterval,
		max:      positive(cfg.BatchSize, 100),
	}
	if s.interval <= 0 {
		s.interval = 2 * time.Second
	}
	go s.loop()
	return s
}

func positive(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Dropped reports how many entries were discarded on a full queue.
func (s *BatchSink) Dropped() int64 { return s.dropped.Load() }

func (s *BatchSink) Write(entry LogEntry) {
	if s.closed.Load() {
		return
	}
	select {
	case s.queue <- entry:
	case <-s.stop:
	default:
		if s.dropped.Add(1) == 1 {
			fmt.Fprintln(os.Stderr, "logging: sink queue full, dropping entries")
		}
	}
}

// Flush waits until everything queued before the call has been written and
// returns the writer's last error, if any.
func (s *BatchSink) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return nil
	}
	reply := make(chan error, 1)
	select {
	case s.flushes <- reply:
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes what is queued and stops the goroutine. Later calls are no-ops.
func (s *BatchSink) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		<-s.stopped
	})
	return nil
}

func (s *BatchSink) loop() {
	defer close(s.stopped)

	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	var pending []LogEntry
	for {
		select {
		case e := <-s.queue:
			if pending = append(pending, e); len(pending) >= s.max {
				pending, _ = s.write(pending)
			}
		case <-tick.C:
			pending, _ = s.write(pending)
		case reply := <-s.flushes:
			var err error
			pending, err = s.drain(pending)
			reply <- err
		case <-s.stop:
			s.drain(pending)
			return
		}
	}
}

// drain empties the queue into batches and writes them all.
func (s *BatchSink) drain(pending []LogEntry) ([]LogEntry, error) {
	var errs []error
	for {
		select {
		case e := <-s.queue:
			pending = append(pending, e)
			if len(pending) < s.max {
				continue
			}
		default:
			var err error
			pending, err = s.write(pending)
			return pending, errors.Join(append(errs, err)...)
		}
		var err error
		if pending, err = s.write(pending); err != nil {
			errs = append(errs, err)
		}
	}
}

// write hands pending to the writer and returns the slice emptied for reuse.
// A failed batch is reported and discarded.
func (s *BatchSink) write(pending []LogEntry) ([]LogEntry, error) {
	if len(pending) == 0 {
		return pending, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), batchWriteTimeout)
	defer cancel()

	err := s.w.WriteBatch(ctx, pending)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: writing %d entries: %v\n", len(pending), err)
	}
	return pending[:0], err
}

// getCaller formats the file:line skip frames above it.
func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}
