// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"fmt"
	"slices"

	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/gputypes"
)

// ShaderSource resolves a logical shader path to SPIR-V words.
// *shader.Library implements it.
type ShaderSource interface {
	Load(path string) ([]uint32, error)
}

// use is one graph image a pass touches, after merging every input and
// output that names it.
type use struct {
	target ResourceRef
	role   role
}

type passPlan struct {
	decl passDecl
	ref  PassRef
	uses []use

	// buckets are the frequencies the pass binds, ascending.
	buckets []Frequency
	colors  []ResourceRef
	depth   ResourceRef
	extent  Extent
}

func (pp *passPlan) addUse(target ResourceRef, r role) error {
	for i := range pp.uses {
		u := &pp.uses[i]
		if u.target != target {
			continue
		}
		if u.role.state.Layout != r.state.Layout {
			return fmt.Errorf("%w: %v and %v", ErrConflictingRoles, u.role.state.Layout, r.state.Layout)
		}
		u.role.state.Access |= r.state.Access
		u.role.usage |= r.usage
		u.role.stage = min(u.role.stage, r.stage)
		u.role.attachment = u.role.attachment || r.attachment
		return nil
	}
	pp.uses = append(pp.uses, use{target: target, role: r})
	return nil
}

// plan is the validated, GPU-free result of usage inference.
type plan struct {
	b      *Builder
	output Extent
	passes []passPlan

	imageUsage []gputypes.TextureUsage
	depthUsage []gputypes.TextureUsage

	// frequencies lists every declared frequency, ascending, and buckets
	// maps each to its declarations.
	frequencies []Frequency
	buckets     map[Frequency][]ResourceRef

	shaders map[string][]uint32
}

func (p *plan) usage(ref ResourceRef) gputypes.TextureUsage {
	if ref.Kind == KindDepthStencil {
		return p.depthUsage[ref.Index]
	}
	return p.imageUsage[ref.Index]
}

func (p *plan) addUsage(ref ResourceRef, u gputypes.TextureUsage) {
	if ref.Kind == KindDepthStencil {
		p.depthUsage[ref.Index] |= u
		return
	}
	p.imageUsage[ref.Index] |= u
}

// plan validates the builder and infers usage. It makes no GPU calls.
func (b *Builder) plan(shaders ShaderSource, output Extent, o options) (*plan, error) {
	if output.Width == 0 || output.Height == 0 {
		return nil, configErr("", NoResource, fmt.Errorf("%w: %dx%d", ErrInvalidExtent, output.Width, output.Height))
	}
	if err := b.validateBackbuffer(); err != nil {
		return nil, err
	}
	if err := b.validateDeclarations(); err != nil {
		return nil, err
	}

	p := &plan{
		b:          b,
		output:     output,
		imageUsage: make([]gputypes.TextureUsage, len(b.images)),
		depthUsage: make([]gputypes.TextureUsage, len(b.depths)),
		buckets:    make(map[Frequency][]ResourceRef),
	}
	if err := p.groupBuckets(); err != nil {
		return nil, err
	}

	p.passes = make([]passPlan, 0, len(b.passes))
	for i, decl := range b.passes {
		pp, err := b.planPass(i, decl, output)
		if err != nil {
			return nil, err
		}
		for _, u := range pp.uses {
			p.addUsage(u.target, u.role.usage)
		}
		p.passes = append(p.passes, pp)
	}

	// Bucket declarations are written into descriptor sets whether or not
	// a pass names them.
	for _, s := range b.sampled {
		if !s.External {
			p.addUsage(s.Image, gputypes.TextureUsageTextureBinding)
		}
	}
	for _, s := range b.storage {
		p.addUsage(s.Image, gputypes.TextureUsageStorageBinding)
	}
	p.addUsage(b.backbuffer, gputypes.TextureUsageCopySrc|o.backbufferUsage)

	var err error
	if p.shaders, err = b.loadShaders(shaders); err != nil {
		return nil, err
	}
	return p, nil
}

func (b *Builder) validateBackbuffer() error {
	switch {
	case b.backbuffer == NoResource:
		return configErr("", NoResource, ErrBackbufferNotSet)
	case b.backbuffer.Kind != KindImage:
		return configErr("", b.backbuffer, ErrInvalidBackbuffer)
	case !b.valid(b.backbuffer):
		return configErr("", b.backbuffer, ErrUnknownResource)
	}
	return nil
}

func (b *Builder) validateDeclarations() error {
	for i, img := range b.images {
		if resource.AspectOf(img.Format).IsDepth() {
			return configErr("", ResourceRef{KindImage, uint32(i)},
				fmt.Errorf("%w: image %q has depth format %v", ErrInvalidFormat, img.Name, img.Format))
		}
	}
	for i, d := range b.depths {
		if !resource.AspectOf(d.Format).IsDepth() {
			return configErr("", ResourceRef{KindDepthStencil, uint32(i)},
				fmt.Errorf("%w: depth target %q has color format %v", ErrInvalidFormat, d.Name, d.Format))
		}
	}
	for i, u := range b.uniforms {
		if u.Source == nil && u.Size == 0 {
			return configErr("", ResourceRef{KindUniformBuffer, uint32(i)},
				fmt.Errorf("%w: uniform buffer has no size and no source", resource.ErrInvalidInfo))
		}
	}
	for i, s := range b.sampled {
		ref := ResourceRef{KindUniformSampledImage, uint32(i)}
		if s.External {
			continue
		}
		switch {
		case s.Image.Kind != KindImage && s.Image.Kind != KindDepthStencil:
			return configErr("", ref, fmt.Errorf("%w: sampled %v", ErrIllegalRole, s.Image))
		case !b.valid(s.Image):
			return configErr("", ref, fmt.Errorf("%w: sampled %v", ErrUnknownResource, s.Image))
		case s.Cube:
			return configErr("", ref, fmt.Errorf("%w: graph images cannot be sampled as cube maps", ErrIllegalRole))
		}
	}
	for i, s := range b.storage {
		ref := ResourceRef{KindUniformStorageImage, uint32(i)}
		switch {
		case s.Image.Kind != KindImage:
			return configErr("", ref, fmt.Errorf("%w: storage %v", ErrIllegalRole, s.Image))
		case !b.valid(s.Image):
			return configErr("", ref, fmt.Errorf("%w: storage %v", ErrUnknownResource, s.Image))
		}
	}
	return nil
}

// groupBuckets groups uniform declarations by frequency and rejects
// out-of-range frequencies and binding collisions inside a frequency.
func (p *plan) groupBuckets() error {
	b := p.b
	add := func(ref ResourceRef, freq Frequency) error {
		if uint32(freq) >= MaxFrequencies {
			return configErr("", ref, fmt.Errorf("%w: frequency %d, limit %d",
				ErrFrequencyOutOfRange, freq, MaxFrequencies))
		}
		if _, ok := p.buckets[freq]; !ok {
			p.frequencies = append(p.frequencies, freq)
		}
		p.buckets[freq] = append(p.buckets[freq], ref)
		return nil
	}
	for i, u := range b.uniforms {
		if err := add(ResourceRef{KindUniformBuffer, uint32(i)}, u.Frequency); err != nil {
			return err
		}
	}
	for i, s := range b.sampled {
		if err := add(ResourceRef{KindUniformSampledImage, uint32(i)}, s.Frequency); err != nil {
			return err
		}
	}
	for i, s := range b.storage {
		if err := add(ResourceRef{KindUniformStorageImage, uint32(i)}, s.Frequency); err != nil {
			return err
		}
	}
	slices.Sort(p.frequencies)

	for _, freq := range p.frequencies {
		seen := make(map[uint32]ResourceRef)
		for _, ref := range p.buckets[freq] {
			for _, lb := range b.layoutBindings(ref) {
				if prev, dup := seen[lb.Binding]; dup {
					return configErr("", ref, fmt.Errorf("%w: frequency %d binding %d also used by %v",
						ErrDuplicateBinding, freq, lb.Binding, prev))
				}
				seen[lb.Binding] = ref
			}
		}
	}
	return nil
}

func (b *Builder) planPass(index int, decl passDecl, output Extent) (passPlan, error) {
	kind := decl.passKind()
	name := decl.passName()
	pp := passPlan{
		decl:   decl,
		ref:    PassRef{Kind: kind, Index: uint32(index)},
		depth:  NoResource,
		extent: output,
	}
	if rp, ok := decl.(RenderPassInfo); ok {
		pp.extent = rp.Extent.resolve(output)
	}

	buckets := make(map[Frequency]bool)
	resolve := func(dir direction, refs []ResourceRef) error {
		for _, ref := range refs {
			if !b.valid(ref) {
				return configErr(name, ref, ErrUnknownResource)
			}
			bd, err := b.resolveRole(kind, dir, ref)
			if err != nil {
				return configErr(name, ref, fmt.Errorf("%w: %v as %v of a %v pass", err, ref.Kind, dir, kind))
			}
			if bd.hasBucket {
				buckets[bd.bucket] = true
			}
			if !bd.hasTarget {
				continue
			}
			if err := pp.addUse(bd.target, bd.role); err != nil {
				return configErr(name, bd.target, err)
			}
			if kind != PassRender || dir != dirOutput {
				continue
			}
			switch {
			case bd.target.Kind == KindImage && !slices.Contains(pp.colors, bd.target):
				pp.colors = append(pp.colors, bd.target)
			case bd.target.Kind == KindDepthStencil && pp.depth == NoResource:
				pp.depth = bd.target
			case bd.target.Kind == KindDepthStencil && pp.depth != bd.target:
				return configErr(name, bd.target, ErrMultipleDepthOutputs)
			}
		}
		return nil
	}
	if err := resolve(dirInput, decl.passInputs()); err != nil {
		return pp, err
	}
	if err := resolve(dirOutput, decl.passOutputs()); err != nil {
		return pp, err
	}

	for freq := range buckets {
		pp.buckets = append(pp.buckets, freq)
	}
	slices.Sort(pp.buckets)
	return pp, nil
}

// loadShaders resolves every shader path once.
func (b *Builder) loadShaders(src ShaderSource) (map[string][]uint32, error) {
	loaded := make(map[string][]uint32)
	load := func(pass, path string) error {
		if _, ok := loaded[path]; ok {
			return nil
		}
		if path == "" {
			return configErr(pass, NoResource, fmt.Errorf("%w: empty path", ErrShaderNotFound))
		}
		if src == nil {
			return configErr(pass, NoResource, fmt.Errorf("%w: %q: no shader source", ErrShaderNotFound, path))
		}
		words, err := src.Load(path)
		if err != nil {
			return configErr(pass, NoResource, fmt.Errorf("%w: %q: %w", ErrShaderNotFound, path, err))
		}
		loaded[path] = words
		return nil
	}
	for _, decl := range b.passes {
		var err error
		switch p := decl.(type) {
		case RenderPassInfo:
			if err = load(p.Name, p.VertexShader); err == nil {
				err = load(p.Name, p.FragmentShader)
			}
		case ComputePassInfo:
			err = load(p.Name, p.Shader)
		}
		if err != nil {
			return nil, err
		}
	}
	return loaded, nil
}

// Bake compiles the builder against output, allocating every GPU object
// the graph needs from mgr. Configuration errors are reported before any
// object is created. If a device call fails, everything created by this
// call is destroyed again before the error is returned.
//
// Bake does not modify the builder, so it can be called again after the
// output extent changes.
func (b *Builder) Bake(mgr *resource.Manager, shaders ShaderSource, output Extent, opts ...Option) (*Graph, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	p, err := b.plan(shaders, output, o)
	if err != nil {
		return nil, err
	}

	g := newGraph(mgr, p, o)
	if err := g.allocate(p); err != nil {
		g.Destroy()
		return nil, fmt.Errorf("framegraph: allocate %q: %w", o.label, err)
	}
	if err := g.buildPipelines(p); err != nil {
		g.Destroy()
		return nil, fmt.Errorf("framegraph: build pipelines %q: %w", o.label, err)
	}
	g.commands = g.schedule(p)

	slogger().Info("framegraph: baked",
		"label", o.label,
		"passes", len(p.passes),
		"commands", len(g.commands),
		"objects", g.owned.count(),
		"frames", o.framesInFlight,
		"extent", fmt.Sprintf("%dx%d", output.Width, output.Height))
	return g, nil
}
