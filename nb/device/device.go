// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

// Package device models the compute back end the engine drives: a
// persistent pool of workers fed by a single ordered launch queue.
//
// The host thread enqueues data-parallel kernels with Launch*. Kernels run
// in launch order; work inside a kernel is spread across all workers with
// no ordering between them. The host synchronizes only by recording an
// Event and waiting on it, which is how counts are read back after a
// neighbor list build:
//
//	dev := device.New("cpu0", 0)
//	defer dev.Close()
//
//	dev.LaunchFlat("findBlockBounds", numBlocks, func(worker, start, end int) error {
//	    ...
//	    return nil
//	})
//	if err := dev.Finish(); err != nil {
//	    return err
//	}
package device

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// Kernel processes the half-open index range [start, end). worker is the
// index of the executing worker in [0, NumWorkers), so kernels may keep
// per-worker scratch without locking.
type Kernel func(worker, start, end int) error

// Device is a worker pool with an ordered launch queue.
type Device struct {
	name       string
	numWorkers int

	workC    chan workItem
	commandC chan command
	drained  chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool

	mu      sync.Mutex
	counts  map[string]int
	failure error
}

// workItem is one chunk of a launch handed to a worker.
type workItem struct {
	fn      func(worker int)
	barrier *sync.WaitGroup
}

// command is either a kernel launch or an event marker.
type command struct {
	launch *launch
	event  *Event
}

type launch struct {
	name   string
	n      int
	batch  int
	kernel Kernel
}

// New creates a device with the given number of workers. Workers and the
// dispatcher are started immediately and live until Close.
// If numWorkers <= 0, uses GOMAXPROCS.
func New(name string, numWorkers int) *Device {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}

	d := &Device{
		name:       name,
		numWorkers: numWorkers,
		workC:      make(chan workItem, numWorkers*2),
		commandC:   make(chan command, 64),
		drained:    make(chan struct{}),
		counts:     make(map[string]int),
	}

	for w := range numWorkers {
		go d.worker(w)
	}
	go d.dispatch()

	return d
}

func (d *Device) worker(id int) {
	for item := range d.workC {
		item.fn(id)
		item.barrier.Done()
	}
}

// dispatch drains the command queue in order. It is the only goroutine that
// hands work to the workers, which is what makes launches ordered.
func (d *Device) dispatch() {
	defer close(d.drained)
	for cmd := range d.commandC {
		if cmd.launch != nil {
			d.execute(cmd.launch)
			continue
		}
		cmd.event.err = d.takeFailure()
		close(cmd.event.done)
	}
	close(d.workC)
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.name
}

// NumWorkers returns the number of workers.
func (d *Device) NumWorkers() int {
	return d.numWorkers
}

// Close drains pending launches and stops the workers. Calling Close
// multiple times is safe. Close must not race with Launch calls.
func (d *Device) Close() {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.commandC)
		<-d.drained
	})
}

// LaunchFlat enqueues a kernel over [0, n) split into one contiguous chunk
// per worker.
func (d *Device) LaunchFlat(name string, n int, k Kernel) {
	d.enqueue(&launch{name: name, n: n, kernel: k})
}

// LaunchBatched enqueues a kernel over [0, n) handed out in batches of
// batchSize through an atomic counter. Use it when work per index varies.
func (d *Device) LaunchBatched(name string, n, batchSize int, k Kernel) {
	if batchSize <= 0 {
		batchSize = 1
	}
	d.enqueue(&launch{name: name, n: n, batch: batchSize, kernel: k})
}

func (d *Device) enqueue(l *launch) {
	if d.closed.Load() {
		// Fallback to running inline if the device is closed
		d.execute(l)
		return
	}
	d.commandC <- command{launch: l}
}

// Record enqueues an event marker. The event completes once every launch
// enqueued before it has finished.
func (d *Device) Record() *Event {
	ev := &Event{done: make(chan struct{})}
	if d.closed.Load() {
		ev.err = d.takeFailure()
		close(ev.done)
		return ev
	}
	d.commandC <- command{event: ev}
	return ev
}

// Finish blocks until all enqueued launches are done and returns the first
// kernel error since the previous event.
func (d *Device) Finish() error {
	return d.Record().Wait()
}

// Run launches a flat kernel and waits for it.
func (d *Device) Run(name string, n int, k Kernel) error {
	d.LaunchFlat(name, n, k)
	return d.Finish()
}

// LaunchCount returns how many times a kernel with the given name has been
// executed.
func (d *Device) LaunchCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[name]
}

func (d *Device) fail(err error) {
	d.mu.Lock()
	if d.failure == nil {
		d.failure = err
	}
	d.mu.Unlock()
}

func (d *Device) takeFailure() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.failure
	d.failure = nil
	return err
}

// execute runs one launch to completion across the workers.
func (d *Device) execute(l *launch) {
	d.mu.Lock()
	d.counts[l.name]++
	d.mu.Unlock()

	if l.n <= 0 {
		return
	}

	run := func(worker, start, end int) {
		defer func() {
			if r := recover(); r != nil {
				d.fail(fmt.Errorf("device %s: kernel %s panicked: %v", d.name, l.name, r))
			}
		}()
		if err := l.kernel(worker, start, end); err != nil {
			d.fail(fmt.Errorf("device %s: kernel %s: %w", d.name, l.name, err))
		}
	}

	if d.closed.Load() {
		run(0, 0, l.n)
		return
	}

	if l.batch > 0 {
		d.executeBatched(l, run)
		return
	}

	workers := min(d.numWorkers, l.n)
	if workers == 1 {
		run(0, 0, l.n)
		return
	}

	chunkSize := (l.n + workers - 1) / workers

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := range workers {
		start := i * chunkSize
		end := min(start+chunkSize, l.n)
		if start >= l.n {
			wg.Done()
			continue
		}
		d.workC <- workItem{
			fn: func(worker int) {
				run(worker, start, end)
			},
			barrier: &wg,
		}
	}
	wg.Wait()
}

func (d *Device) executeBatched(l *launch, run func(worker, start, end int)) {
	numBatches := (l.n + l.batch - 1) / l.batch
	workers := min(d.numWorkers, numBatches)
	if workers == 1 {
		run(0, 0, l.n)
		return
	}

	var nextBatch atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		d.workC <- workItem{
			fn: func(worker int) {
				for {
					batch := int(nextBatch.Add(1)) - 1
					start := batch * l.batch
					if start >= l.n {
						return
					}
					run(worker, start, min(start+l.batch, l.n))
				}
			},
			barrier: &wg,
		}
	}
	wg.Wait()
}

// Event marks a point in the launch queue.
type Event struct {
	done chan struct{}
	err  error
}

// Wait blocks until the event completes and returns the first kernel error
// raised since the previous event.
func (e *Event) Wait() error {
	<-e.done
	return e.err
}

// Done reports whether the event has completed without blocking.
func (e *Event) Done() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}
