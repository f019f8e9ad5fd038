// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"log/slog"

	"github.com/ajroetker/go-nonbonded/nb/device"
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger *slog.Logger
	dev    *device.Device
	name   string
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDevice runs the engine on an existing device instead of creating
// one. The engine does not close a device it was given.
func WithDevice(dev *device.Device) Option {
	return func(o *options) {
		o.dev = dev
	}
}

// WithName names the engine's device and log records.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.New(slog.DiscardHandler),
		name:   "nonbonded",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
