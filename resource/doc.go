// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package resource owns every GPU object the frame graph and its clients
// create.
//
// Objects live in typed arenas ([Pool]) and are addressed by dense, opaque
// [Ref] handles instead of pointers. A Ref is a non-owning lookup key: the
// pool exclusively owns the underlying object, and destroying it recycles
// the slot for the next creation (lowest free slot first).
//
// The [Manager] exposes typed create/get/destroy accessors for images,
// buffers, samplers, descriptor-set layouts, descriptor sets, and render
// and compute pipelines. Creation is safe from any goroutine, so asset and
// chunk workers can allocate buffers while the render thread records.
//
// The package also defines the image state model ([Layout], [Access],
// [Stage]) shared by the graph compiler and the staging subsystem.
package resource
