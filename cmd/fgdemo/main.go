// Command fgdemo builds a two-pass frame graph (scene, then a post pass that
// samples it) and renders it headlessly on the noop backend.
package main

import (
	"context"
	"embed"
	"encoding/binary"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/asset"
	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/engine"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/framegraph/shader"
	"github.com/gogpu/framegraph/staging"
	"github.com/gogpu/gputypes"
)

//go:embed shaders/*.wgsl
var shaderFS embed.FS

type config struct {
	width, height uint32
	frames        int
	inFlight      int
	interval      time.Duration
	overlay       string
	resizeAt      int
}

func main() {
	var (
		width    = flag.Uint("width", 800, "surface width")
		height   = flag.Uint("height", 600, "surface height")
		frames   = flag.Int("frames", 60, "number of frames to render")
		inFlight = flag.Int("in-flight", framegraph.DefaultFramesInFlight, "frames in flight")
		interval = flag.Duration("interval", 0, "delay between frames")
		overlay  = flag.String("overlay", "", "image file modulating the post pass (default: checkerboard)")
		resizeAt = flag.Int("resize-at", 0, "resize the surface to half size after this many frames")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	framegraph.SetLogger(logger)

	sub, err := fs.Sub(shaderFS, "shaders")
	if err != nil {
		logger.Error("shaders", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config{
		width:    uint32(*width),
		height:   uint32(*height),
		frames:   *frames,
		inFlight: max(*inFlight, 1),
		interval: *interval,
		overlay:  *overlay,
		resizeAt: *resizeAt,
	}
	if err := run(ctx, logger, cfg, shader.NewLibrary(sub)); err != nil {
		logger.Error("fgdemo failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg config, shaders framegraph.ShaderSource) error {
	gpu, err := device.OpenNoop()
	if err != nil {
		return err
	}
	defer gpu.Close()

	mgr := resource.NewManager(gpu)
	defer mgr.Destroy()
	stager := staging.New(mgr)
	defer stager.Destroy()

	overlay, err := loadOverlay(ctx, mgr, stager, cfg.overlay)
	if err != nil {
		return err
	}
	defer overlay.Destroy()

	camera, err := asset.NewUniformBuffer(mgr, stager, "camera", 16, cfg.inFlight)
	if err != nil {
		return err
	}
	defer camera.Destroy()

	surface, err := engine.NewOffscreenSurface(mgr, cfg.width, cfg.height, gputypes.TextureFormatBGRA8Unorm)
	if err != nil {
		return err
	}
	defer surface.Destroy()

	b := buildGraph(camera, overlay)
	e, err := engine.New(gpu, mgr, stager, shaders, b, surface,
		engine.WithFramesInFlight(cfg.inFlight),
		engine.WithLabel("fgdemo"),
	)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	start := time.Now()
	for i := 0; cfg.frames <= 0 || i < cfg.frames; i++ {
		if cfg.resizeAt > 0 && i == cfg.resizeAt {
			if err := e.Resize(max(cfg.width/2, 1), max(cfg.height/2, 1)); err != nil {
				return fmt.Errorf("resize: %w", err)
			}
		}
		ext := surface.Extent()
		data := cameraData(time.Since(start).Seconds(), float32(ext.Width)/float32(ext.Height))
		if err := camera.Update(e.Frame(), data); err != nil {
			return err
		}
		if err := e.Render(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
		if cfg.interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(cfg.interval):
			}
		}
	}

	logger.Info("fgdemo: done",
		"frames", e.FrameCount(),
		"presented", surface.Presented(),
		"objects", e.Graph().ObjectCount(),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// buildGraph declares a scene pass with depth into "scene", then a post
// pass sampling it into "out", which is presented.
func buildGraph(camera *asset.UniformBuffer, overlay *asset.Texture) *framegraph.Builder {
	b := framegraph.NewBuilder()
	scene := b.CreateImage(framegraph.ImageInfo{
		Name:       "scene",
		ClearColor: gputypes.Color{R: 0.05, G: 0.05, B: 0.1, A: 1},
	})
	depth := b.CreateDepthStencil(framegraph.DepthStencilInfo{Name: "depth"})
	out := b.CreateImage(framegraph.ImageInfo{Name: "out"})

	cam := b.AddUniformBuffer(framegraph.UniformBufferInfo{
		Frequency:  framegraph.PerFrame,
		Binding:    0,
		Size:       16,
		Source:     camera,
		Visibility: gputypes.ShaderStageVertex,
	})
	sceneTex := b.AddUniformSampledImage(framegraph.SampledImageInfo{
		Frequency:      framegraph.PerPass,
		Binding:        0,
		SamplerBinding: 1,
		Image:          scene,
	})
	overlayTex := b.AddUniformSampledImage(framegraph.SampledImageInfo{
		Frequency:      framegraph.PerPass,
		Binding:        2,
		SamplerBinding: 3,
		External:       true,
		Texture:        overlay.Ref(),
	})

	draw := func(p *framegraph.PassContext) error {
		p.Render.Draw(3, 1, 0, 0)
		return nil
	}
	b.AddRenderPass(framegraph.NewRenderPassInfo("scene", "scene.wgsl", "scene.wgsl",
		[]framegraph.ResourceRef{cam}, []framegraph.ResourceRef{scene, depth}, draw))

	post := framegraph.NewRenderPassInfo("post", "post.wgsl", "post.wgsl",
		[]framegraph.ResourceRef{sceneTex, overlayTex}, []framegraph.ResourceRef{out}, draw)
	post.DepthTest, post.DepthWrite = false, false
	b.AddRenderPass(post)

	b.SetBackbuffer(out)
	return b
}

func loadOverlay(ctx context.Context, mgr *resource.Manager, stager *staging.Stager, path string) (*asset.Texture, error) {
	if path == "" {
		return asset.NewTexture2D(mgr, stager, "checkerboard", checkerboard(64, 8))
	}
	texs, err := asset.NewLoader(mgr, stager).Textures(ctx, asset.TextureSource{Label: "overlay", Path: path})
	if err != nil {
		return nil, err
	}
	return texs[0], nil
}

func checkerboard(size, cell int) *asset.Pixels {
	px := &asset.Pixels{Width: size, Height: size, Channels: 3, Data: make([]byte, size*size*3)}
	for y := range size {
		for x := range size {
			v := byte(64)
			if (x/cell+y/cell)%2 == 0 {
				v = 255
			}
			i := (y*size + x) * 3
			px.Data[i], px.Data[i+1], px.Data[i+2] = v, v, v
		}
	}
	return px
}

// cameraData packs the camera uniform: time, aspect and two pad floats.
func cameraData(seconds float64, aspect float32) []byte {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[0:], math.Float32bits(float32(seconds)))
	binary.LittleEndian.PutUint32(data[4:], math.Float32bits(aspect))
	return data
}
