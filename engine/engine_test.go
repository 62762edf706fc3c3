package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/framegraph/shader"
	"github.com/gogpu/framegraph/staging"
	"github.com/gogpu/gputypes"
)

var fakeSPIRV = []uint32{0x07230203, 0x00010000, 0, 1, 0}

type fixture struct {
	gpu     *device.Context
	mgr     *resource.Manager
	stager  *staging.Stager
	shaders *shader.Library
	surface *OffscreenSurface
}

func newFixture(t *testing.T, width, height uint32) *fixture {
	t.Helper()
	gpu, err := device.OpenNoop()
	if err != nil {
		t.Fatalf("OpenNoop failed: %v", err)
	}
	mgr := resource.NewManager(gpu)
	stager := staging.New(mgr)
	lib := shader.NewLibrary(nil, shader.WithoutBuiltins())
	for _, p := range []string{shader.BlitPath, "fullscreen.vert", "scene.frag"} {
		lib.Register(p, fakeSPIRV)
	}
	surface, err := NewOffscreenSurface(mgr, width, height, gputypes.TextureFormatBGRA8Unorm)
	if err != nil {
		t.Fatalf("NewOffscreenSurface failed: %v", err)
	}
	t.Cleanup(func() {
		surface.Destroy()
		stager.Destroy()
		mgr.Destroy()
		gpu.Close()
	})
	return &fixture{gpu: gpu, mgr: mgr, stager: stager, shaders: lib, surface: surface}
}

// sceneBuilder draws into one color image that is presented.
func sceneBuilder(passes *[]int) *framegraph.Builder {
	b := framegraph.NewBuilder()
	out := b.CreateImage(framegraph.ImageInfo{Name: "out"})
	b.AddRenderPass(framegraph.NewRenderPassInfo("scene", "fullscreen.vert", "scene.frag", nil, []framegraph.ResourceRef{out},
		func(p *framegraph.PassContext) error {
			if passes != nil {
				*passes = append(*passes, p.Frame)
			}
			return nil
		}))
	b.SetBackbuffer(out)
	return b
}

func (f *fixture) engine(t *testing.T, b *framegraph.Builder, opts ...Option) *Engine {
	t.Helper()
	e, err := New(f.gpu, f.mgr, f.stager, f.shaders, b, f.surface, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestRenderRotatesFrames(t *testing.T) {
	f := newFixture(t, 64, 48)
	var frames []int
	e := f.engine(t, sceneBuilder(&frames), WithFramesInFlight(3))

	ctx := context.Background()
	for range 7 {
		if err := e.Render(ctx); err != nil {
			t.Fatalf("Render failed: %v", err)
		}
	}

	want := []int{0, 1, 2, 0, 1, 2, 0}
	if len(frames) != len(want) {
		t.Fatalf("pass ran for frames %v, want %v", frames, want)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Errorf("render %d used frame %d, want %d", i, frames[i], want[i])
		}
	}
	if e.Frame() != 1 {
		t.Errorf("Frame = %d, want 1", e.Frame())
	}
	if e.FrameCount() != 7 {
		t.Errorf("FrameCount = %d, want 7", e.FrameCount())
	}
	if f.surface.Presented() != 7 {
		t.Errorf("Presented = %d, want 7", f.surface.Presented())
	}
	if err := e.WaitIdle(); err != nil {
		t.Errorf("WaitIdle failed: %v", err)
	}
}

func TestRenderFlushesStagedUploads(t *testing.T) {
	f := newFixture(t, 32, 32)
	e := f.engine(t, sceneBuilder(nil))

	buf, err := f.mgr.CreateBuffer(resource.BufferInfo{
		Label: "params",
		Size:  16,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	if err := f.stager.UpdateBuffer(buf, 0, make([]byte, 16)); err != nil {
		t.Fatalf("UpdateBuffer failed: %v", err)
	}
	if f.stager.Pending() != 1 {
		t.Fatalf("Pending = %d before Render", f.stager.Pending())
	}
	if err := e.Render(context.Background()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if f.stager.Pending() != 0 {
		t.Errorf("Pending = %d after Render", f.stager.Pending())
	}
}

func TestRenderCancelledContext(t *testing.T) {
	f := newFixture(t, 32, 32)
	e := f.engine(t, sceneBuilder(nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Render(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Render = %v, want context.Canceled", err)
	}
	if e.FrameCount() != 0 || f.surface.Presented() != 0 {
		t.Error("cancelled Render produced a frame")
	}
}

func TestRenderPassErrorDiscardsFrame(t *testing.T) {
	f := newFixture(t, 32, 32)
	errDraw := errors.New("draw failed")
	b := framegraph.NewBuilder()
	out := b.CreateImage(framegraph.ImageInfo{Name: "out"})
	b.AddRenderPass(framegraph.NewRenderPassInfo("scene", "fullscreen.vert", "scene.frag", nil, []framegraph.ResourceRef{out},
		func(*framegraph.PassContext) error { return errDraw }))
	b.SetBackbuffer(out)
	e := f.engine(t, b)

	if err := e.Render(context.Background()); !errors.Is(err, errDraw) {
		t.Fatalf("Render = %v, want errDraw", err)
	}
	if e.Frame() != 0 || f.surface.Presented() != 0 {
		t.Error("failed frame advanced or presented")
	}
	// The surface texture was returned, so it can be acquired again.
	if _, err := f.surface.Acquire(); err != nil {
		t.Errorf("Acquire after failed frame: %v", err)
	}
}

// Uploads baked into a discarded frame are recorded again by the next one.
func TestRenderKeepsUploadsOfDiscardedFrame(t *testing.T) {
	f := newFixture(t, 32, 32)
	fail := true
	b := framegraph.NewBuilder()
	out := b.CreateImage(framegraph.ImageInfo{Name: "out"})
	b.AddRenderPass(framegraph.NewRenderPassInfo("scene", "fullscreen.vert", "scene.frag", nil, []framegraph.ResourceRef{out},
		func(*framegraph.PassContext) error {
			if fail {
				return errors.New("draw failed")
			}
			return nil
		}))
	b.SetBackbuffer(out)
	e := f.engine(t, b)

	buf, err := f.mgr.CreateBuffer(resource.BufferInfo{
		Label: "params",
		Size:  16,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	if err := f.stager.UpdateBuffer(buf, 0, make([]byte, 16)); err != nil {
		t.Fatalf("UpdateBuffer failed: %v", err)
	}
	if err := e.Render(context.Background()); err == nil {
		t.Fatal("Render succeeded with a failing pass")
	}
	if got := f.stager.Pending(); got != 1 {
		t.Fatalf("Pending = %d after discarded frame, want 1", got)
	}

	fail = false
	if err := e.Render(context.Background()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := f.stager.Pending(); got != 0 {
		t.Errorf("Pending = %d after Render, want 0", got)
	}
}

func TestResize(t *testing.T) {
	f := newFixture(t, 64, 48)
	e := f.engine(t, sceneBuilder(nil))
	ctx := context.Background()
	if err := e.Render(ctx); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	if err := e.Resize(128, 96); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	want := framegraph.Extent{Width: 128, Height: 96}
	if got := e.Graph().Extent(); got != want {
		t.Errorf("graph extent = %v, want %v", got, want)
	}
	if got := f.surface.Extent(); got != want {
		t.Errorf("surface extent = %v, want %v", got, want)
	}
	if got := f.mgr.Image(e.Graph().BackbufferImage(0)).Info.Width; got != 128 {
		t.Errorf("backbuffer width = %d", got)
	}
	if err := e.Render(ctx); err != nil {
		t.Fatalf("Render after resize failed: %v", err)
	}
}

func TestResizeFailureKeepsGraph(t *testing.T) {
	f := newFixture(t, 64, 48)
	e := f.engine(t, sceneBuilder(nil))
	before := e.Graph()
	objects := f.mgr.Stats().Total()

	err := e.Resize(0, 0)
	if !errors.Is(err, framegraph.ErrInvalidExtent) {
		t.Fatalf("Resize(0, 0) = %v, want ErrInvalidExtent", err)
	}
	if e.Graph() != before {
		t.Error("failed Resize replaced the graph")
	}
	if got := f.mgr.Stats().Total(); got != objects {
		t.Errorf("object count changed from %d to %d", objects, got)
	}
	if err := e.Render(context.Background()); err != nil {
		t.Errorf("Render after failed resize: %v", err)
	}
}

func TestNewFailsWithoutBlitShader(t *testing.T) {
	f := newFixture(t, 32, 32)
	lib := shader.NewLibrary(nil, shader.WithoutBuiltins())
	lib.Register("fullscreen.vert", fakeSPIRV)
	lib.Register("scene.frag", fakeSPIRV)
	objects := f.mgr.Stats().Total()

	if _, err := New(f.gpu, f.mgr, f.stager, lib, sceneBuilder(nil), f.surface); err == nil {
		t.Fatal("New succeeded without the blit shader")
	}
	if got := f.mgr.Stats().Total(); got != objects {
		t.Errorf("failed New leaked %d objects", got-objects)
	}
}

func TestCloseReleasesAndRejects(t *testing.T) {
	f := newFixture(t, 32, 32)
	objects := f.mgr.Stats().Total()
	e, err := New(f.gpu, f.mgr, f.stager, f.shaders, sceneBuilder(nil), f.surface)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := e.Render(context.Background()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if got := f.mgr.Stats().Total(); got != objects {
		t.Errorf("%d objects left after Close", got-objects)
	}
	if err := e.Render(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Render after Close = %v, want ErrClosed", err)
	}
	if err := e.Resize(16, 16); !errors.Is(err, ErrClosed) {
		t.Errorf("Resize after Close = %v, want ErrClosed", err)
	}
}

func TestRunStopsAfterN(t *testing.T) {
	f := newFixture(t, 32, 32)
	e := f.engine(t, sceneBuilder(nil))
	if err := e.Run(context.Background(), 5, 0); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if e.FrameCount() != 5 {
		t.Errorf("FrameCount = %d, want 5", e.FrameCount())
	}
}

func TestOffscreenSurfaceAcquire(t *testing.T) {
	f := newFixture(t, 16, 8)
	tex, err := f.surface.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if tex.Width != 16 || tex.Height != 8 {
		t.Errorf("texture size = %dx%d", tex.Width, tex.Height)
	}
	if _, err := f.surface.Acquire(); !errors.Is(err, ErrSurfaceBusy) {
		t.Errorf("second Acquire = %v, want ErrSurfaceBusy", err)
	}
	f.surface.Discard(tex)
	if f.surface.Presented() != 0 {
		t.Error("Discard counted as present")
	}
	if _, err := f.surface.Acquire(); err != nil {
		t.Errorf("Acquire after Discard: %v", err)
	}
}
