// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package device provides the explicit GPU context that every framegraph
// component receives instead of reaching for a global device.
//
// A Context is created once, either by opening a HAL backend directly
// (Open), by adopting a host application's device through a
// gpucontext.DeviceProvider (FromProvider), or by opening the pure-Go noop
// backend (OpenNoop) for headless runs and tests.
package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// DefaultWaitTimeout bounds a single fence wait. It is long enough to be
// effectively unbounded for a healthy device.
const DefaultWaitTimeout = 10 * time.Second

var (
	// ErrNoBackend is returned when the requested HAL backend is not compiled in.
	ErrNoBackend = errors.New("device: backend not available")

	// ErrNoAdapter is returned when the backend enumerates no adapters.
	ErrNoAdapter = errors.New("device: no GPU adapters found")

	// ErrNotHALProvider is returned by FromProvider when the provider does
	// not expose HAL device and queue objects.
	ErrNotHALProvider = errors.New("device: provider does not expose HAL types")

	// ErrWaitTimeout is returned when a fence is not signalled in time.
	ErrWaitTimeout = errors.New("device: fence wait timed out")
)

// Context bundles the device and queue that all GPU objects are created on.
//
// Context is safe for concurrent use as far as the underlying HAL device
// is; it holds no mutable state of its own after construction.
type Context struct {
	Device hal.Device
	Queue  hal.Queue

	// AdapterName is informational; empty for adopted devices.
	AdapterName string

	instance hal.Instance
	external bool
}

// New wraps an already opened device and queue. The caller keeps
// ownership: Close does not destroy them.
func New(dev hal.Device, queue hal.Queue) *Context {
	return &Context{Device: dev, Queue: queue, external: true}
}

// Open creates an instance on the given backend, picks a discrete or
// integrated adapter when one exists, and opens a device on it.
func Open(backendType gputypes.Backend) (*Context, error) {
	backend, ok := hal.GetBackend(backendType)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNoBackend, backendType)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	return openInstance(instance)
}

// OpenNoop opens a device on the noop backend. Every call succeeds and no
// GPU work is performed, which makes it suitable for headless runs.
func OpenNoop() (*Context, error) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, fmt.Errorf("create noop instance: %w", err)
	}
	return openInstance(instance)
}

func openInstance(instance hal.Instance) (*Context, error) {
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open device: %w", err)
	}

	logging.Logger().Info("device: opened", "adapter", selected.Info.Name)
	return &Context{
		Device:      openDev.Device,
		Queue:       openDev.Queue,
		AdapterName: selected.Info.Name,
		instance:    instance,
	}, nil
}

// FromProvider adopts the device of a host application. The provider must
// implement HalDevice() any and HalQueue() any returning hal.Device and
// hal.Queue, as gogpu does. The host keeps ownership of the device.
func FromProvider(provider gpucontext.DeviceProvider) (*Context, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNotHALProvider
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok || dev == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNotHALProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNotHALProvider)
	}
	return New(dev, queue), nil
}

// WaitIdle submits an empty batch with a fresh fence and blocks until it
// signals, which drains all previously submitted work on the queue.
func (c *Context) WaitIdle() error {
	fence, err := c.Device.CreateFence()
	if err != nil {
		return fmt.Errorf("create fence: %w", err)
	}
	defer c.Device.DestroyFence(fence)

	if err := c.Queue.Submit(nil, fence, 1); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return c.Wait(fence, 1, DefaultWaitTimeout)
}

// Wait blocks until fence reaches value or timeout elapses.
func (c *Context) Wait(fence hal.Fence, value uint64, timeout time.Duration) error {
	ok, err := c.Device.Wait(fence, value, timeout)
	if err != nil {
		return fmt.Errorf("wait fence: %w", err)
	}
	if !ok {
		return ErrWaitTimeout
	}
	return nil
}

// Close destroys the device and instance if this context opened them.
func (c *Context) Close() {
	if c.external {
		return
	}
	if c.Device != nil {
		c.Device.Destroy()
		c.Device = nil
	}
	if c.instance != nil {
		c.instance.Destroy()
		c.instance = nil
	}
}
