package framegraph

import (
	"errors"
	"testing"

	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/gputypes"
)

func TestExecuteRunsPassesInOrder(t *testing.T) {
	mgr := newTestManager(t)
	b := NewBuilder()
	x := b.CreateImage(ImageInfo{Name: "x"})
	y := b.CreateImage(ImageInfo{Name: "y"})
	camera := b.AddUniformBuffer(UniformBufferInfo{Binding: 0, Size: 64})
	src := b.AddUniformSampledImage(SampledImageInfo{Frequency: PerPass, Binding: 0, SamplerBinding: 1, Image: x})

	var order []string
	var frames []int
	record := func(p *PassContext) error {
		order = append(order, p.Name)
		frames = append(frames, p.Frame)
		return nil
	}

	scene := renderPass("scene", refs(camera), refs(x))
	scene.Execute = func(p *PassContext) error {
		if p.Render == nil || p.Compute != nil {
			t.Error("render pass context should carry only a render encoder")
		}
		if img := p.Image(x); img == nil || img.Info.Width != testExtent.Width {
			t.Errorf("Image(x) = %+v", img)
		}
		if set := p.DescriptorSet(PerFrame); set == nil {
			t.Error("DescriptorSet(PerFrame) = nil")
		}
		if ref := p.UniformBuffer(camera); ref != p.Graph().UniformBuffer(camera, p.Frame) {
			t.Errorf("UniformBuffer = %d", ref)
		}
		return record(p)
	}
	b.AddRenderPass(scene)
	b.AddComputePass(ComputePassInfo{
		Name: "blur", Shader: "blur.comp", Inputs: refs(src),
		Execute: func(p *PassContext) error {
			if p.Compute == nil || p.Render != nil {
				t.Error("compute pass context should carry only a compute encoder")
			}
			return record(p)
		},
	})
	b.AddTransferPass(TransferPassInfo{
		Name: "copy", Inputs: refs(x), Outputs: refs(y),
		Execute: func(p *PassContext) error {
			if p.Encoder == nil || p.Pipeline.Valid() {
				t.Error("transfer pass context should carry the encoder and no pipeline")
			}
			return record(p)
		},
	})
	b.SetBackbuffer(y)

	g := mustBake(t, b, mgr)
	enc := newTestEncoder(t, mgr)
	for frame := range g.FramesInFlight() {
		if err := g.Execute(enc, frame); err != nil {
			t.Fatalf("Execute(%d) failed: %v", frame, err)
		}
	}

	want := []string{"scene", "blur", "copy", "scene", "blur", "copy"}
	if len(order) != len(want) {
		t.Fatalf("ran %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("pass %d = %q, want %q", i, order[i], want[i])
		}
		if wantFrame := i / 3; frames[i] != wantFrame {
			t.Errorf("pass %d ran in frame %d, want %d", i, frames[i], wantFrame)
		}
	}
}

func TestExecuteFrameOutOfRange(t *testing.T) {
	mgr := newTestManager(t)
	b := NewBuilder()
	x := b.CreateImage(ImageInfo{Name: "x"})
	b.AddRenderPass(renderPass("draw", nil, refs(x)))
	b.SetBackbuffer(x)
	g := mustBake(t, b, mgr)

	enc := newTestEncoder(t, mgr)
	for _, frame := range []int{-1, DefaultFramesInFlight} {
		if err := g.Execute(enc, frame); !errors.Is(err, ErrFrameOutOfRange) {
			t.Errorf("Execute(%d) = %v, want ErrFrameOutOfRange", frame, err)
		}
	}
}

func TestExecutePassError(t *testing.T) {
	mgr := newTestManager(t)
	b := NewBuilder()
	x := b.CreateImage(ImageInfo{Name: "x"})
	errDraw := errors.New("draw failed")
	ran := false
	b.AddRenderPass(NewRenderPassInfo("bad", "fullscreen.vert", "scene.frag", nil, refs(x),
		func(*PassContext) error { return errDraw }))
	b.AddRenderPass(NewRenderPassInfo("after", "fullscreen.vert", "scene.frag", nil, refs(x),
		func(*PassContext) error { ran = true; return nil }))
	b.SetBackbuffer(x)
	g := mustBake(t, b, mgr)

	err := g.Execute(newTestEncoder(t, mgr), 0)
	if !errors.Is(err, errDraw) {
		t.Fatalf("Execute = %v, want errDraw", err)
	}
	if ran {
		t.Error("pass after the failing pass was executed")
	}
}

func TestGraphAccessors(t *testing.T) {
	mgr := newTestManager(t)
	b := complexBuilder()
	g := mustBake(t, b, mgr, WithFramesInFlight(3), WithLabel("main"))

	if g.FramesInFlight() != 3 {
		t.Errorf("FramesInFlight = %d", g.FramesInFlight())
	}
	if g.Extent() != testExtent {
		t.Errorf("Extent = %v", g.Extent())
	}
	if g.Backbuffer() != b.Backbuffer() {
		t.Errorf("Backbuffer = %v", g.Backbuffer())
	}
	if got := g.Frequencies(); len(got) != 2 || got[0] != PerFrame || got[1] != PerPass {
		t.Errorf("Frequencies = %v", got)
	}
	if !g.Layout(PerPass).Valid() || g.Layout(7).Valid() {
		t.Error("Layout validity wrong")
	}
	if g.Sampler(ResourceRef{KindUniformSampledImage, 0}) == resource.InvalidRef {
		t.Error("sampler not allocated")
	}
	if g.Sampler(ResourceRef{KindUniformBuffer, 0}).Valid() {
		t.Error("Sampler accepts a uniform buffer ref")
	}
	if g.UniformBuffer(ResourceRef{KindUniformBuffer, 0}, 3).Valid() {
		t.Error("UniformBuffer accepts an out-of-range frame")
	}
	if g.Image(ResourceRef{KindUniformBuffer, 0}, 0).Valid() {
		t.Error("Image accepts a uniform buffer ref")
	}
	if got := mgr.Image(g.BackbufferImage(2)).Info.Label; got != "main/out[2]" {
		t.Errorf("backbuffer label = %q", got)
	}

	// Mutating the returned slices does not affect the graph.
	cmds := g.Commands()
	cmds[0] = nil
	if g.Commands()[0] == nil {
		t.Error("Commands returned the internal slice")
	}
}

func TestGraphDestroyReleasesEverything(t *testing.T) {
	mgr := newTestManager(t)
	ext, err := mgr.CreateImage(resource.ImageInfo{
		Label:  "asset",
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageTextureBinding,
		Width:  1,
		Height: 1,
	})
	if err != nil {
		t.Fatalf("CreateImage failed: %v", err)
	}

	b := complexBuilder()
	b.AddUniformSampledImage(SampledImageInfo{Frequency: PerPass, Binding: 5, SamplerBinding: 6, External: true, Texture: ext})
	g, err := b.Bake(mgr, newTestShaders(), testExtent)
	if err != nil {
		t.Fatalf("Bake failed: %v", err)
	}
	if g.ObjectCount() != mgr.Stats().Total()-1 {
		t.Errorf("ObjectCount = %d, manager holds %d besides the asset", g.ObjectCount(), mgr.Stats().Total()-1)
	}

	g.Destroy()
	g.Destroy()
	if total := mgr.Stats().Total(); total != 1 {
		t.Errorf("%d objects left after Destroy, want only the external asset", total)
	}
}
