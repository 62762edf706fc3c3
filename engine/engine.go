// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package engine drives a baked framegraph frame by frame: it rotates the
// frames in flight, flushes staged uploads, replays the graph, and presents
// the backbuffer onto a Surface.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/framegraph/staging"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

var (
	// ErrFenceWait is returned when a frame slot's fence does not signal.
	ErrFenceWait = errors.New("engine: waiting for frame slot failed")

	// ErrClosed is returned by operations on a closed Engine.
	ErrClosed = errors.New("engine: closed")
)

type slot struct {
	fence hal.Fence
	value uint64
	cmd   hal.CommandBuffer
}

// Engine owns a baked graph and the per-frame synchronization needed to
// render it continuously. Render, Resize and Close must not be called
// concurrently with each other.
type Engine struct {
	gpu     *device.Context
	mgr     *resource.Manager
	stager  *staging.Stager
	shaders framegraph.ShaderSource
	builder *framegraph.Builder
	surface Surface
	opts    options

	mu        sync.Mutex
	graph     *framegraph.Graph
	presenter *presenter
	slots     []slot
	frame     int
	count     uint64
	closed    bool
}

// New bakes builder at the surface size and prepares the frame slots.
func New(gpu *device.Context, mgr *resource.Manager, stager *staging.Stager, shaders framegraph.ShaderSource,
	builder *framegraph.Builder, surface Surface, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		gpu:     gpu,
		mgr:     mgr,
		stager:  stager,
		shaders: shaders,
		builder: builder,
		surface: surface,
		opts:    o,
	}

	g, err := e.bake(surface.Extent())
	if err != nil {
		return nil, err
	}
	p, err := newPresenter(mgr, shaders, surface.Format(), o.presentFilter)
	if err != nil {
		g.Destroy()
		return nil, fmt.Errorf("engine: create presenter: %w", err)
	}
	if err := p.bind(g); err != nil {
		p.destroy()
		g.Destroy()
		return nil, fmt.Errorf("engine: bind presenter: %w", err)
	}
	e.graph = g
	e.presenter = p

	e.slots = make([]slot, o.framesInFlight)
	for i := range e.slots {
		fence, err := gpu.Device.CreateFence()
		if err != nil {
			e.release()
			return nil, fmt.Errorf("engine: create fence: %w", err)
		}
		e.slots[i].fence = fence
	}

	logging.Logger().Info("engine: ready",
		"frames", o.framesInFlight, "extent", surface.Extent(), "passes", builder.PassCount())
	return e, nil
}

func (e *Engine) bake(extent framegraph.Extent) (*framegraph.Graph, error) {
	return e.builder.Bake(e.mgr, e.shaders, extent,
		framegraph.WithFramesInFlight(e.opts.framesInFlight),
		framegraph.WithLabel(e.opts.label),
		framegraph.WithBackbufferUsage(gputypes.TextureUsageTextureBinding),
	)
}

// Render records, submits and presents one frame.
func (e *Engine) Render(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	frame := e.frame
	s := &e.slots[frame]
	if s.value > 0 {
		if err := e.gpu.Wait(s.fence, s.value, e.opts.fenceTimeout); err != nil {
			return fmt.Errorf("%w: frame %d: %w", ErrFenceWait, frame, err)
		}
	}
	if s.cmd != nil {
		e.gpu.Device.FreeCommandBuffer(s.cmd)
		s.cmd = nil
	}

	target, err := e.surface.Acquire()
	if err != nil {
		return fmt.Errorf("engine: acquire surface: %w", err)
	}

	enc, err := e.gpu.Device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "frame"})
	if err != nil {
		e.surface.Discard(target)
		return fmt.Errorf("engine: create encoder: %w", err)
	}
	if err := enc.BeginEncoding("frame"); err != nil {
		e.surface.Discard(target)
		return fmt.Errorf("engine: begin encoding: %w", err)
	}

	e.stager.BakeCommands(enc)
	if err := e.graph.Execute(enc, frame); err != nil {
		enc.DiscardEncoding()
		e.surface.Discard(target)
		return err
	}
	e.presenter.record(enc, e.graph, frame, target)

	cmd, err := enc.EndEncoding()
	if err != nil {
		e.surface.Discard(target)
		return fmt.Errorf("engine: end encoding: %w", err)
	}

	s.value++
	if err := e.gpu.Queue.Submit([]hal.CommandBuffer{cmd}, s.fence, s.value); err != nil {
		s.value--
		e.gpu.Device.FreeCommandBuffer(cmd)
		e.surface.Discard(target)
		return fmt.Errorf("engine: submit: %w", err)
	}
	s.cmd = cmd
	e.stager.Flush()

	if err := e.surface.Present(target); err != nil {
		return fmt.Errorf("engine: present: %w", err)
	}

	e.frame = (e.frame + 1) % len(e.slots)
	e.count++
	return nil
}

// Resize rebakes the graph for a new surface size. If baking fails the
// previous graph stays in use and the error is returned.
func (e *Engine) Resize(width, height uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	if err := e.waitSlots(); err != nil {
		return err
	}
	if err := e.gpu.WaitIdle(); err != nil {
		return fmt.Errorf("engine: wait idle: %w", err)
	}

	extent := framegraph.Extent{Width: width, Height: height}
	g, err := e.bake(extent)
	if err != nil {
		return err
	}
	if err := e.presenter.bind(g); err != nil {
		g.Destroy()
		return fmt.Errorf("engine: bind presenter: %w", err)
	}
	old := e.graph
	e.graph = g
	old.Destroy()

	if r, ok := e.surface.(Resizer); ok {
		if err := r.Resize(width, height); err != nil {
			return fmt.Errorf("engine: resize surface: %w", err)
		}
	}
	logging.Logger().Debug("engine: resized", "extent", extent)
	return nil
}

// waitSlots blocks until every submitted frame has completed.
func (e *Engine) waitSlots() error {
	for i := range e.slots {
		s := &e.slots[i]
		if s.value == 0 {
			continue
		}
		if err := e.gpu.Wait(s.fence, s.value, e.opts.fenceTimeout); err != nil {
			return fmt.Errorf("%w: frame %d: %w", ErrFenceWait, i, err)
		}
	}
	return nil
}

// WaitIdle blocks until all submitted frames have completed.
func (e *Engine) WaitIdle() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.waitSlots()
}

// Frame returns the frame slot the next Render call records into.
func (e *Engine) Frame() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frame
}

// FrameCount returns the number of frames rendered so far.
func (e *Engine) FrameCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// Graph returns the graph currently being rendered. It is replaced by
// Resize and destroyed by Close.
func (e *Engine) Graph() *framegraph.Graph {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph
}

// Close waits for in-flight frames and releases everything the engine
// created. The manager, stager and surface are left to the caller.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	err := e.waitSlots()
	e.release()
	return err
}

func (e *Engine) release() {
	for i := range e.slots {
		s := &e.slots[i]
		if s.cmd != nil {
			e.gpu.Device.FreeCommandBuffer(s.cmd)
			s.cmd = nil
		}
		if s.fence != nil {
			e.gpu.Device.DestroyFence(s.fence)
			s.fence = nil
		}
	}
	if e.presenter != nil {
		e.presenter.destroy()
		e.presenter = nil
	}
	if e.graph != nil {
		e.graph.Destroy()
		e.graph = nil
	}
}

// Run renders frames until ctx is cancelled or n frames were rendered.
// A non-positive n renders until cancellation.
func (e *Engine) Run(ctx context.Context, n int, interval time.Duration) error {
	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}
	for i := 0; n <= 0 || i < n; i++ {
		if err := e.Render(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		}
	}
	return nil
}
