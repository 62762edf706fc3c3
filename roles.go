package framegraph

import (
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/gputypes"
)

type direction uint8

const (
	dirInput direction = iota
	dirOutput
)

func (d direction) String() string {
	if d == dirOutput {
		return "output"
	}
	return "input"
}

// role is what a pass needs from one graph image.
type role struct {
	usage gputypes.TextureUsage
	state resource.State
	stage resource.Stage
	// attachment marks color and depth outputs of render passes.
	attachment bool
}

var (
	roleSampled      = role{usage: gputypes.TextureUsageTextureBinding, state: resource.StateShaderRead, stage: resource.StageFragmentShader}
	roleColor        = role{usage: gputypes.TextureUsageRenderAttachment, state: resource.StateColorWrite, stage: resource.StageColorAttachmentOutput, attachment: true}
	roleDepth        = role{usage: gputypes.TextureUsageRenderAttachment, state: resource.StateDepthWrite, stage: resource.StageEarlyFragmentTests, attachment: true}
	roleStorageRead  = role{usage: gputypes.TextureUsageStorageBinding, state: resource.StateStorageRead, stage: resource.StageFragmentShader}
	roleStorageWrite = role{usage: gputypes.TextureUsageStorageBinding, state: resource.StateStorageWrite, stage: resource.StageComputeShader}
	roleTransferSrc  = role{usage: gputypes.TextureUsageCopySrc, state: resource.StateTransferSrc, stage: resource.StageTransfer}
	roleTransferDst  = role{usage: gputypes.TextureUsageCopyDst, state: resource.StateTransferDst, stage: resource.StageTransfer}
)

// shaderStage is the stage shader accesses of a pass kind run in.
func shaderStage(kind PassKind) resource.Stage {
	if kind == PassCompute {
		return resource.StageComputeShader
	}
	return resource.StageFragmentShader
}

// binding is the resolved meaning of one input or output of a pass: an
// optional image role and an optional frequency bucket.
type binding struct {
	target    ResourceRef
	role      role
	hasTarget bool

	bucket    Frequency
	hasBucket bool
}

// resolveRole applies the role table. It returns ErrIllegalRole for any
// combination the table does not list.
func (b *Builder) resolveRole(kind PassKind, dir direction, ref ResourceRef) (binding, error) {
	var out binding
	withTarget := func(target ResourceRef, r role) {
		out.target, out.role, out.hasTarget = target, r, true
	}
	if freq, ok := b.frequency(ref); ok {
		out.bucket, out.hasBucket = freq, true
	}

	switch kind {
	case PassRender:
		switch {
		case dir == dirInput && (ref.Kind == KindImage || ref.Kind == KindDepthStencil):
			withTarget(ref, roleSampled)
		case dir == dirOutput && ref.Kind == KindImage:
			withTarget(ref, roleColor)
		case dir == dirOutput && ref.Kind == KindDepthStencil:
			withTarget(ref, roleDepth)
		case dir == dirInput && out.hasBucket:
			b.bucketTarget(kind, dirInput, ref, withTarget)
		default:
			return out, ErrIllegalRole
		}
	case PassCompute:
		switch {
		case dir == dirInput && ref.Kind == KindImage:
			r := roleStorageRead
			r.stage = resource.StageComputeShader
			withTarget(ref, r)
		case dir == dirOutput && ref.Kind == KindImage:
			withTarget(ref, roleStorageWrite)
		case dir == dirInput && out.hasBucket:
			b.bucketTarget(kind, dirInput, ref, withTarget)
		case dir == dirOutput && ref.Kind == KindUniformStorageImage:
			b.bucketTarget(kind, dirOutput, ref, withTarget)
		default:
			return out, ErrIllegalRole
		}
	case PassTransfer:
		switch {
		case ref.Kind != KindImage && ref.Kind != KindDepthStencil:
			return out, ErrIllegalRole
		case dir == dirInput:
			withTarget(ref, roleTransferSrc)
		default:
			withTarget(ref, roleTransferDst)
		}
	default:
		return out, ErrIllegalRole
	}
	return out, nil
}

// bucketTarget adds the image role implied by a uniform image declaration.
// Uniform buffers and external textures have no graph image behind them.
func (b *Builder) bucketTarget(kind PassKind, dir direction, ref ResourceRef, with func(ResourceRef, role)) {
	switch ref.Kind {
	case KindUniformSampledImage:
		s := b.sampled[ref.Index]
		if s.External {
			return
		}
		r := roleSampled
		r.stage = shaderStage(kind)
		with(s.Image, r)
	case KindUniformStorageImage:
		r := roleStorageRead
		if dir == dirOutput {
			r = roleStorageWrite
		}
		r.stage = shaderStage(kind)
		with(b.storage[ref.Index].Image, r)
	}
}
