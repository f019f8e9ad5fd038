// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package device

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
)

func TestNew(t *testing.T) {
	dev := New("test", 4)
	defer dev.Close()

	if dev.NumWorkers() != 4 {
		t.Errorf("NumWorkers() = %d, want 4", dev.NumWorkers())
	}
	if dev.Name() != "test" {
		t.Errorf("Name() = %q, want test", dev.Name())
	}
}

func TestNewDefault(t *testing.T) {
	dev := New("test", 0)
	defer dev.Close()

	if dev.NumWorkers() != runtime.GOMAXPROCS(0) {
		t.Errorf("NumWorkers() = %d, want %d", dev.NumWorkers(), runtime.GOMAXPROCS(0))
	}
}

func TestLaunchFlat(t *testing.T) {
	dev := New("test", 4)
	defer dev.Close()

	n := 100
	results := make([]int, n)
	dev.LaunchFlat("double", n, func(worker, start, end int) error {
		for i := start; i < end; i++ {
			results[i] = i * 2
		}
		return nil
	})
	if err := dev.Finish(); err != nil {
		t.Fatalf("Finish() = %v", err)
	}

	for i := 0; i < n; i++ {
		if results[i] != i*2 {
			t.Errorf("results[%d] = %d, want %d", i, results[i], i*2)
		}
	}
}

func TestLaunchBatchedCoversAll(t *testing.T) {
	dev := New("test", 3)
	defer dev.Close()

	n := 1001
	var hits [1001]atomic.Int32
	dev.LaunchBatched("mark", n, 7, func(worker, start, end int) error {
		for i := start; i < end; i++ {
			hits[i].Add(1)
		}
		return nil
	})
	if err := dev.Finish(); err != nil {
		t.Fatalf("Finish() = %v", err)
	}
	for i := range n {
		if hits[i].Load() != 1 {
			t.Errorf("index %d visited %d times", i, hits[i].Load())
		}
	}
}

func TestWorkerIDsInRange(t *testing.T) {
	dev := New("test", 4)
	defer dev.Close()

	var bad atomic.Int32
	dev.LaunchBatched("ids", 500, 1, func(worker, start, end int) error {
		if worker < 0 || worker >= 4 {
			bad.Add(1)
		}
		return nil
	})
	if err := dev.Finish(); err != nil {
		t.Fatal(err)
	}
	if bad.Load() != 0 {
		t.Errorf("%d launches saw an out-of-range worker id", bad.Load())
	}
}

func TestLaunchOrder(t *testing.T) {
	dev := New("test", 4)
	defer dev.Close()

	n := 64
	data := make([]int, n)
	for step := 1; step <= 10; step++ {
		dev.LaunchFlat("step", n, func(worker, start, end int) error {
			for i := start; i < end; i++ {
				if data[i] != step-1 {
					return errors.New("launch ran out of order")
				}
				data[i] = step
			}
			return nil
		})
	}
	if err := dev.Finish(); err != nil {
		t.Fatalf("Finish() = %v", err)
	}
	if dev.LaunchCount("step") != 10 {
		t.Errorf("LaunchCount(step) = %d, want 10", dev.LaunchCount("step"))
	}
}

func TestKernelErrorReportedOnce(t *testing.T) {
	dev := New("test", 2)
	defer dev.Close()

	boom := errors.New("boom")
	dev.LaunchFlat("fail", 10, func(worker, start, end int) error {
		return boom
	})
	if err := dev.Finish(); !errors.Is(err, boom) {
		t.Errorf("Finish() = %v, want boom", err)
	}
	if err := dev.Finish(); err != nil {
		t.Errorf("second Finish() = %v, want nil", err)
	}
}

func TestKernelPanicRecovered(t *testing.T) {
	dev := New("test", 2)
	defer dev.Close()

	dev.LaunchFlat("panic", 4, func(worker, start, end int) error {
		var s []int
		_ = s[start+10]
		return nil
	})
	if err := dev.Finish(); err == nil {
		t.Error("Finish() = nil, want panic error")
	}
}

func TestEventDone(t *testing.T) {
	dev := New("test", 2)
	defer dev.Close()

	ev := dev.Record()
	if err := ev.Wait(); err != nil {
		t.Fatal(err)
	}
	if !ev.Done() {
		t.Error("Done() = false after Wait")
	}
}

func TestCloseIdempotent(t *testing.T) {
	dev := New("test", 2)
	dev.Close()
	dev.Close()

	// Launches after close run inline.
	sum := 0
	if err := dev.Run("after", 10, func(worker, start, end int) error {
		for i := start; i < end; i++ {
			sum += i
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if sum != 45 {
		t.Errorf("sum = %d, want 45", sum)
	}
}

func TestZeroLength(t *testing.T) {
	dev := New("test", 2)
	defer dev.Close()

	called := false
	dev.LaunchFlat("empty", 0, func(worker, start, end int) error {
		called = true
		return nil
	})
	if err := dev.Finish(); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("kernel called for n=0")
	}
	if dev.LaunchCount("empty") != 1 {
		t.Errorf("LaunchCount(empty) = %d, want 1", dev.LaunchCount("empty"))
	}
}
