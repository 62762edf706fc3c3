package framegraph

import (
	"testing"

	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/framegraph/shader"
	"github.com/gogpu/wgpu/hal"
)

// fakeSPIRV is enough for the noop backend, which does not parse modules.
var fakeSPIRV = []uint32{0x07230203, 0x00010000, 0, 1, 0}

var testExtent = Extent{Width: 320, Height: 240}

func newTestManager(t *testing.T) *resource.Manager {
	t.Helper()
	ctx, err := device.OpenNoop()
	if err != nil {
		t.Fatalf("OpenNoop failed: %v", err)
	}
	mgr := resource.NewManager(ctx)
	t.Cleanup(func() {
		mgr.Destroy()
		ctx.Close()
	})
	return mgr
}

func newTestShaders(paths ...string) *shader.Library {
	lib := shader.NewLibrary(nil, shader.WithoutBuiltins())
	for _, p := range append([]string{"fullscreen.vert", "scene.frag", "post.frag", "blur.comp"}, paths...) {
		lib.Register(p, fakeSPIRV)
	}
	return lib
}

func newTestEncoder(t *testing.T, mgr *resource.Manager) hal.CommandEncoder {
	t.Helper()
	enc, err := mgr.Context().Device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "test"})
	if err != nil {
		t.Fatalf("CreateCommandEncoder failed: %v", err)
	}
	if err := enc.BeginEncoding("test"); err != nil {
		t.Fatalf("BeginEncoding failed: %v", err)
	}
	t.Cleanup(func() {
		cmd, err := enc.EndEncoding()
		if err == nil {
			mgr.Context().Device.FreeCommandBuffer(cmd)
		}
	})
	return enc
}

func mustBake(t *testing.T, b *Builder, mgr *resource.Manager, opts ...Option) *Graph {
	t.Helper()
	g, err := b.Bake(mgr, newTestShaders(), testExtent, opts...)
	if err != nil {
		t.Fatalf("Bake failed: %v", err)
	}
	t.Cleanup(g.Destroy)
	return g
}

func renderPass(name string, inputs, outputs []ResourceRef) RenderPassInfo {
	return NewRenderPassInfo(name, "fullscreen.vert", "scene.frag", inputs, outputs, nil)
}

func refs(r ...ResourceRef) []ResourceRef { return r }

// barriers returns every barrier command of a sequence.
func barriers(cmds []Command) []PipelineBarrierCommand {
	var out []PipelineBarrierCommand
	for _, c := range cmds {
		if b, ok := c.(PipelineBarrierCommand); ok {
			out = append(out, b)
		}
	}
	return out
}
