// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package device

import "testing"

func BenchmarkLaunchFlat(b *testing.B) {
	dev := New("bench", 0)
	defer dev.Close()

	data := make([]float64, 1<<16)
	b.ResetTimer()
	for range b.N {
		dev.LaunchFlat("scale", len(data), func(worker, start, end int) error {
			for i := start; i < end; i++ {
				data[i] = data[i]*0.5 + 1
			}
			return nil
		})
		if err := dev.Finish(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLaunchBatched(b *testing.B) {
	dev := New("bench", 0)
	defer dev.Close()

	data := make([]float64, 1<<16)
	b.ResetTimer()
	for range b.N {
		dev.LaunchBatched("scale", len(data), 256, func(worker, start, end int) error {
			for i := start; i < end; i++ {
				data[i] = data[i]*0.5 + 1
			}
			return nil
		})
		if err := dev.Finish(); err != nil {
			b.Fatal(err)
		}
	}
}
