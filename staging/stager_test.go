package staging

import (
	"errors"
	"reflect"
	"testing"

	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

func newTestStager(t *testing.T, opts ...Option) (*Stager, *resource.Manager) {
	t.Helper()
	ctx, err := device.OpenNoop()
	if err != nil {
		t.Fatalf("OpenNoop failed: %v", err)
	}
	mgr := resource.NewManager(ctx)
	s := New(mgr, opts...)
	t.Cleanup(func() {
		s.Destroy()
		mgr.Destroy()
		ctx.Close()
	})
	return s, mgr
}

func newEncoder(t *testing.T, mgr *resource.Manager) hal.CommandEncoder {
	t.Helper()
	enc, err := mgr.Context().Device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "test"})
	if err != nil {
		t.Fatalf("CreateCommandEncoder failed: %v", err)
	}
	if err := enc.BeginEncoding("test"); err != nil {
		t.Fatalf("BeginEncoding failed: %v", err)
	}
	return enc
}

func mustBuffer(t *testing.T, mgr *resource.Manager, size uint64) resource.Ref {
	t.Helper()
	ref, err := mgr.CreateBuffer(resource.BufferInfo{
		Label: "dst",
		Size:  size,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	return ref
}

func TestUpdateBufferFirstFit(t *testing.T) {
	s, mgr := newTestStager(t, WithMinBufferSize(1024))
	dst := mustBuffer(t, mgr, 4096)

	// Both fit in the first staging buffer.
	if err := s.UpdateBuffer(dst, 0, make([]byte, 400)); err != nil {
		t.Fatalf("UpdateBuffer failed: %v", err)
	}
	if err := s.UpdateBuffer(dst, 400, make([]byte, 400)); err != nil {
		t.Fatalf("UpdateBuffer failed: %v", err)
	}
	if got := s.BufferCount(); got != 1 {
		t.Fatalf("BufferCount = %d, want 1", got)
	}

	// Does not fit in the remaining 224 bytes: a second buffer appears.
	if err := s.UpdateBuffer(dst, 800, make([]byte, 300)); err != nil {
		t.Fatalf("UpdateBuffer failed: %v", err)
	}
	if got := s.BufferCount(); got != 2 {
		t.Fatalf("BufferCount = %d, want 2", got)
	}

	// A small write goes back to the first buffer's tail.
	if err := s.UpdateBuffer(dst, 1100, make([]byte, 100)); err != nil {
		t.Fatalf("UpdateBuffer failed: %v", err)
	}
	if got := s.BufferCount(); got != 2 {
		t.Errorf("BufferCount = %d, want 2 (first fit)", got)
	}
	if got := s.Pending(); got != 4 {
		t.Errorf("Pending = %d, want 4", got)
	}
}

// An update larger than every staging buffer grows the pool.
func TestUpdateBufferGrowsPool(t *testing.T) {
	s, mgr := newTestStager(t, WithMinBufferSize(1024))
	small := mustBuffer(t, mgr, 512)
	large := mustBuffer(t, mgr, 64<<10)

	if err := s.UpdateBuffer(small, 0, make([]byte, 512)); err != nil {
		t.Fatalf("UpdateBuffer failed: %v", err)
	}
	payload := make([]byte, 48<<10)
	if err := s.UpdateBuffer(large, 0, payload); err != nil {
		t.Fatalf("oversized UpdateBuffer returned error: %v", err)
	}

	caps := s.Capacities()
	if len(caps) != 2 {
		t.Fatalf("staging buffers = %d, want 2", len(caps))
	}
	if caps[1] < uint64(len(payload)) {
		t.Errorf("new staging buffer holds %d bytes, want >= %d", caps[1], len(payload))
	}
	if got := s.Pending(); got != 2 {
		t.Errorf("Pending = %d, want 2", got)
	}
}

// bake records the queued jobs into a throwaway encoder.
func bake(t *testing.T, s *Stager, mgr *resource.Manager) {
	t.Helper()
	enc := newEncoder(t, mgr)
	s.BakeCommands(enc)
	cmd, err := enc.EndEncoding()
	if err != nil {
		t.Fatalf("EndEncoding failed: %v", err)
	}
	mgr.Context().Device.FreeCommandBuffer(cmd)
}

func TestFlushRewindsCursors(t *testing.T) {
	s, mgr := newTestStager(t, WithMinBufferSize(1024))
	dst := mustBuffer(t, mgr, 1024)

	for range 3 {
		if err := s.UpdateBuffer(dst, 0, make([]byte, 1024)); err != nil {
			t.Fatalf("UpdateBuffer failed: %v", err)
		}
		bake(t, s, mgr)
		s.Flush()
	}
	if got := s.BufferCount(); got != 1 {
		t.Errorf("BufferCount = %d, want 1 after flushes", got)
	}
	if got := s.Pending(); got != 0 {
		t.Errorf("Pending = %d after Flush, want 0", got)
	}
}

// Flush without a bake releases nothing.
func TestFlushKeepsUnbakedJobs(t *testing.T) {
	s, mgr := newTestStager(t, WithMinBufferSize(1024))
	dst := mustBuffer(t, mgr, 1024)

	if err := s.UpdateBuffer(dst, 0, make([]byte, 1024)); err != nil {
		t.Fatalf("UpdateBuffer failed: %v", err)
	}
	s.Flush()
	if got := s.Pending(); got != 1 {
		t.Fatalf("Pending = %d, want 1", got)
	}
	// The first buffer is still full.
	if err := s.UpdateBuffer(dst, 0, make([]byte, 16)); err != nil {
		t.Fatalf("UpdateBuffer failed: %v", err)
	}
	if got := s.BufferCount(); got != 2 {
		t.Errorf("BufferCount = %d, want 2", got)
	}
}

// An upload staged between BakeCommands and Flush survives the Flush, and
// its staging bytes are not reused until it has been baked and flushed.
func TestUploadBetweenBakeAndFlush(t *testing.T) {
	s, mgr := newTestStager(t, WithMinBufferSize(1024))
	dst := mustBuffer(t, mgr, 1024)

	if err := s.UpdateBuffer(dst, 0, make([]byte, 512)); err != nil {
		t.Fatalf("UpdateBuffer failed: %v", err)
	}
	bake(t, s, mgr)
	if err := s.UpdateBuffer(dst, 512, make([]byte, 256)); err != nil {
		t.Fatalf("UpdateBuffer failed: %v", err)
	}
	s.Flush()
	if got := s.Pending(); got != 1 {
		t.Fatalf("Pending after Flush = %d, want 1", got)
	}

	// Bytes [512, 768) are still live: 512 more bytes do not fit in
	// the remaining 256.
	if err := s.UpdateBuffer(dst, 0, make([]byte, 512)); err != nil {
		t.Fatalf("UpdateBuffer failed: %v", err)
	}
	if got := s.BufferCount(); got != 2 {
		t.Errorf("BufferCount = %d, want 2", got)
	}

	bake(t, s, mgr)
	s.Flush()
	if got := s.Pending(); got != 0 {
		t.Errorf("Pending = %d after second Flush, want 0", got)
	}
	// Both buffers are empty again.
	if err := s.UpdateBuffer(dst, 0, make([]byte, 1024)); err != nil {
		t.Fatalf("UpdateBuffer failed: %v", err)
	}
	if got := s.BufferCount(); got != 2 {
		t.Errorf("BufferCount = %d after rewind, want 2", got)
	}
}

// A baked batch that is never flushed is baked again.
func TestBakeWithoutFlushRerecords(t *testing.T) {
	s, mgr := newTestStager(t)
	dst := mustBuffer(t, mgr, 64)
	if err := s.UpdateBuffer(dst, 0, make([]byte, 64)); err != nil {
		t.Fatalf("UpdateBuffer failed: %v", err)
	}

	first := &recordingEncoder{CommandEncoder: newEncoder(t, mgr)}
	s.BakeCommands(first)
	second := &recordingEncoder{CommandEncoder: newEncoder(t, mgr)}
	s.BakeCommands(second)
	if got := second.count("copy-buffer"); got != 1 {
		t.Errorf("second bake recorded %d buffer copies, want 1", got)
	}
	s.Flush()
	third := &recordingEncoder{CommandEncoder: newEncoder(t, mgr)}
	s.BakeCommands(third)
	if len(third.calls) != 0 {
		t.Errorf("bake after Flush recorded %v", third.ops())
	}
}

func TestCancel(t *testing.T) {
	s, mgr := newTestStager(t)
	buf := mustBuffer(t, mgr, 64)
	other := mustBuffer(t, mgr, 64)
	img, err := mgr.CreateImage(resource.ImageInfo{
		Label:  "albedo",
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
		Width:  2,
		Height: 2,
	})
	if err != nil {
		t.Fatalf("CreateImage failed: %v", err)
	}

	if err := s.UpdateImage(img, resource.LayoutUndefined, make([]byte, 16), 0); err != nil {
		t.Fatalf("UpdateImage failed: %v", err)
	}
	bake(t, s, mgr)
	if err := s.UpdateImage(img, resource.LayoutShaderReadOnly, make([]byte, 16), 0); err != nil {
		t.Fatalf("UpdateImage failed: %v", err)
	}
	if err := s.UpdateBuffer(buf, 0, make([]byte, 16)); err != nil {
		t.Fatalf("UpdateBuffer failed: %v", err)
	}
	if err := s.UpdateBuffer(other, 0, make([]byte, 16)); err != nil {
		t.Fatalf("UpdateBuffer failed: %v", err)
	}

	// Image and buffer refs share numbering; cancelling one kind leaves
	// the other alone.
	s.CancelImage(img)
	if got := s.Pending(); got != 2 {
		t.Fatalf("Pending = %d after CancelImage, want 2", got)
	}
	if err := mgr.DestroyImage(img); err != nil {
		t.Fatalf("DestroyImage failed: %v", err)
	}
	s.CancelBuffer(buf)
	if err := mgr.DestroyBuffer(buf); err != nil {
		t.Fatalf("DestroyBuffer failed: %v", err)
	}

	enc := &recordingEncoder{CommandEncoder: newEncoder(t, mgr)}
	s.BakeCommands(enc)
	if got := enc.ops(); !reflect.DeepEqual(got, []string{"copy-buffer", "transition-buffers"}) {
		t.Errorf("recorded %v, want only the surviving buffer copy", got)
	}
}

// failingQueue rejects every buffer write.
type failingQueue struct {
	hal.Queue
}

func (failingQueue) WriteBuffer(hal.Buffer, uint64, []byte) error { return errWrite }

var errWrite = errors.New("buffer is not mapped")

func TestQueueWriteErrorIsReturned(t *testing.T) {
	s, mgr := newTestStager(t)
	dst := mustBuffer(t, mgr, 64)
	img, err := mgr.CreateImage(resource.ImageInfo{
		Label:  "albedo",
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
		Width:  2,
		Height: 2,
	})
	if err != nil {
		t.Fatalf("CreateImage failed: %v", err)
	}

	ctx := mgr.Context()
	queue := ctx.Queue
	ctx.Queue = failingQueue{queue}
	t.Cleanup(func() { ctx.Queue = queue })

	if err := s.UpdateBuffer(dst, 0, make([]byte, 64)); !errors.Is(err, errWrite) {
		t.Errorf("UpdateBuffer = %v, want the queue error", err)
	}
	if err := s.UpdateImage(img, resource.LayoutUndefined, make([]byte, 16), 0); !errors.Is(err, errWrite) {
		t.Errorf("UpdateImage = %v, want the queue error", err)
	}
	if err := mgr.WriteBuffer(dst, 0, make([]byte, 8)); !errors.Is(err, errWrite) {
		t.Errorf("Manager.WriteBuffer = %v, want the queue error", err)
	}
	if got := s.Pending(); got != 0 {
		t.Errorf("Pending = %d, want 0: failed writes must not queue copies", got)
	}
}

func TestUpdateBufferOutOfRange(t *testing.T) {
	s, mgr := newTestStager(t)
	dst := mustBuffer(t, mgr, 16)
	if err := s.UpdateBuffer(dst, 8, make([]byte, 16)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("err = %v, want ErrOutOfRange", err)
	}
	if err := s.UpdateBuffer(dst, 0, nil); err != nil {
		t.Errorf("empty update = %v, want nil", err)
	}
	if s.Pending() != 0 {
		t.Error("rejected update queued a job")
	}
}

func TestUpdateImage(t *testing.T) {
	s, mgr := newTestStager(t)
	img, err := mgr.CreateImage(resource.ImageInfo{
		Label:  "cube",
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
		Width:  10,
		Height: 4,
		Type:   resource.ImageCube,
	})
	if err != nil {
		t.Fatalf("CreateImage failed: %v", err)
	}

	face := make([]byte, 10*4*4)
	for layer := range uint32(6) {
		if err := s.UpdateImage(img, resource.LayoutUndefined, face, layer); err != nil {
			t.Fatalf("UpdateImage layer %d failed: %v", layer, err)
		}
	}

	tests := []struct {
		name  string
		data  []byte
		layer uint32
		want  error
	}{
		{"short data", make([]byte, 10), 0, ErrImageDataSize},
		{"missing layer", face, 6, ErrLayerOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.UpdateImage(img, resource.LayoutUndefined, tt.data, tt.layer); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if got := s.Pending(); got != 6 {
		t.Errorf("Pending = %d, want 6", got)
	}
}

func TestUpdateImageUnsupportedFormat(t *testing.T) {
	s, mgr := newTestStager(t)
	depth, err := mgr.CreateImage(resource.ImageInfo{
		Label:  "depth",
		Format: gputypes.TextureFormatDepth24PlusStencil8,
		Usage:  gputypes.TextureUsageRenderAttachment,
		Width:  4,
		Height: 4,
	})
	if err != nil {
		t.Fatalf("CreateImage failed: %v", err)
	}
	if err := s.UpdateImage(depth, resource.LayoutUndefined, make([]byte, 64), 0); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

// recordingEncoder records the transfer commands the stager emits.
type recordingEncoder struct {
	hal.CommandEncoder
	calls []encoderCall
}

type encoderCall struct {
	op       string
	textures []hal.TextureBarrier
	buffers  []hal.BufferBarrier
}

func (r *recordingEncoder) TransitionTextures(barriers []hal.TextureBarrier) {
	r.calls = append(r.calls, encoderCall{op: "transition-textures", textures: barriers})
}

func (r *recordingEncoder) TransitionBuffers(barriers []hal.BufferBarrier) {
	r.calls = append(r.calls, encoderCall{op: "transition-buffers", buffers: barriers})
}

func (r *recordingEncoder) CopyBufferToBuffer(_, _ hal.Buffer, _ []hal.BufferCopy) {
	r.calls = append(r.calls, encoderCall{op: "copy-buffer"})
}

func (r *recordingEncoder) CopyBufferToTexture(_ hal.Buffer, _ hal.Texture, _ []hal.BufferTextureCopy) {
	r.calls = append(r.calls, encoderCall{op: "copy-texture"})
}

func (r *recordingEncoder) ops() []string {
	ops := make([]string, len(r.calls))
	for i, c := range r.calls {
		ops[i] = c.op
	}
	return ops
}

func (r *recordingEncoder) count(op string) int {
	n := 0
	for _, c := range r.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

func TestBakeCommands(t *testing.T) {
	s, mgr := newTestStager(t)
	dst := mustBuffer(t, mgr, 256)
	other := mustBuffer(t, mgr, 256)
	cube, err := mgr.CreateImage(resource.ImageInfo{
		Label:  "sky",
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
		Width:  2,
		Height: 2,
		Type:   resource.ImageCube,
	})
	if err != nil {
		t.Fatalf("CreateImage failed: %v", err)
	}
	img, err := mgr.CreateImage(resource.ImageInfo{
		Label:  "albedo",
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
		Width:  2,
		Height: 2,
	})
	if err != nil {
		t.Fatalf("CreateImage failed: %v", err)
	}

	if err := s.UpdateBuffer(dst, 0, make([]byte, 64)); err != nil {
		t.Fatalf("UpdateBuffer failed: %v", err)
	}
	if err := s.CopyBuffer(dst, other, 0, 64, 64); err != nil {
		t.Fatalf("CopyBuffer failed: %v", err)
	}
	if err := s.CopyBuffer(dst, other, 0, 250, 64); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("overflowing CopyBuffer = %v, want ErrOutOfRange", err)
	}
	for layer := range uint32(2) {
		if err := s.UpdateImage(cube, resource.LayoutUndefined, make([]byte, 16), layer); err != nil {
			t.Fatalf("UpdateImage layer %d failed: %v", layer, err)
		}
	}
	if err := s.UpdateImage(img, resource.LayoutShaderReadOnly, make([]byte, 16), 0); err != nil {
		t.Fatalf("UpdateImage failed: %v", err)
	}

	enc := &recordingEncoder{CommandEncoder: newEncoder(t, mgr)}
	s.BakeCommands(enc)

	want := []string{
		"transition-textures",
		"copy-buffer", "copy-buffer",
		"copy-texture", "copy-texture", "copy-texture",
		"transition-buffers",
		"transition-textures",
	}
	if got := enc.ops(); !reflect.DeepEqual(got, want) {
		t.Fatalf("recorded %v, want %v", got, want)
	}

	// One pre-barrier per distinct image, from the layout given at upload.
	pre := enc.calls[0].textures
	if len(pre) != 2 {
		t.Fatalf("pre-barriers = %d, want 2", len(pre))
	}
	transferDst := resource.LayoutTransferDst.TextureUsage()
	wantPre := []hal.TextureUsageTransition{
		{OldUsage: resource.LayoutUndefined.TextureUsage(), NewUsage: transferDst},
		{OldUsage: resource.LayoutShaderReadOnly.TextureUsage(), NewUsage: transferDst},
	}
	for i, b := range pre {
		if b.Usage != wantPre[i] {
			t.Errorf("pre-barrier %d = %+v, want %+v", i, b.Usage, wantPre[i])
		}
	}

	bufPost := enc.calls[6].buffers
	if len(bufPost) != 2 {
		t.Fatalf("buffer post-barriers = %d, want 2 (one per destination)", len(bufPost))
	}
	for i, b := range bufPost {
		want := hal.BufferUsageTransition{OldUsage: gputypes.BufferUsageCopyDst, NewUsage: gputypes.BufferUsageUniform}
		if b.Usage != want {
			t.Errorf("buffer post-barrier %d = %+v, want %+v", i, b.Usage, want)
		}
	}

	post := enc.calls[7].textures
	if len(post) != 2 {
		t.Fatalf("image post-barriers = %d, want 2", len(post))
	}
	for i, b := range post {
		want := hal.TextureUsageTransition{OldUsage: transferDst, NewUsage: resource.LayoutShaderReadOnly.TextureUsage()}
		if b.Usage != want {
			t.Errorf("image post-barrier %d = %+v, want %+v", i, b.Usage, want)
		}
	}

	if got := s.Pending(); got != 5 {
		t.Errorf("Pending = %d before Flush, want 5", got)
	}
	s.Flush()
	if got := s.Pending(); got != 0 {
		t.Errorf("Pending = %d after Flush, want 0", got)
	}
}

func TestReadUsage(t *testing.T) {
	tests := []struct {
		in, want gputypes.BufferUsage
	}{
		{gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst, gputypes.BufferUsageUniform},
		{gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst, gputypes.BufferUsageVertex},
		{gputypes.BufferUsageCopyDst, gputypes.BufferUsageCopyDst},
	}
	for _, tt := range tests {
		if got := readUsage(tt.in); got != tt.want {
			t.Errorf("readUsage(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPadRows(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6}
	got := padRows(data, 3, 4, 2)
	want := []byte{1, 2, 3, 0, 4, 5, 6, 0}
	if string(got) != string(want) {
		t.Errorf("padRows = %v, want %v", got, want)
	}
	if same := padRows(data, 3, 3, 2); &same[0] != &data[0] {
		t.Error("padRows copied data that needed no padding")
	}
}
