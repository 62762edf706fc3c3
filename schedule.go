package framegraph

import (
	"github.com/gogpu/framegraph/resource"
)

// schedule walks the passes in declaration order, tracking the state of
// every graph image, and emits the pass commands with the barriers between
// them. A barrier is emitted only when the required state differs from the
// tracked one.
func (g *Graph) schedule(p *plan) []Command {
	state := make(map[ResourceRef]resource.State)
	lastStage := make(map[ResourceRef]resource.Stage)

	cmds := make([]Command, 0, 2*len(p.passes)+1)
	for i := range p.passes {
		pp := &p.passes[i]

		var pending, initial []ImageBarrier
		cleared := make(map[ResourceRef]bool)
		src, dst := resource.StageTopOfPipe, resource.StageBottomOfPipe
		for _, u := range pp.uses {
			cur := state[u.target]
			prevStage, seen := lastStage[u.target]
			lastStage[u.target] = u.role.stage
			if cur == u.role.state {
				continue
			}
			barrier := ImageBarrier{Resource: u.target, Old: cur, New: u.role.state}
			state[u.target] = u.role.state

			if u.role.attachment && cur.Layout == resource.LayoutUndefined {
				initial = append(initial, barrier)
				cleared[u.target] = true
				continue
			}
			pending = append(pending, barrier)
			if seen {
				src = max(src, prevStage)
			}
			dst = min(dst, u.role.stage)
		}
		if len(pending) > 0 {
			cmds = append(cmds, PipelineBarrierCommand{SrcStage: src, DstStage: dst, Barriers: pending})
		}

		rt := &g.passes[i]
		switch pp.ref.Kind {
		case PassRender:
			cmd := RenderPipelineCommand{
				Pass:               pp.ref,
				Pipeline:           rt.pipeline,
				InitialTransitions: initial,
				GroupCount:         len(rt.groups),
			}
			for _, c := range pp.colors {
				cmd.Colors = append(cmd.Colors, Attachment{Resource: c, Clear: cleared[c]})
			}
			if pp.depth != NoResource {
				cmd.Depth = &Attachment{Resource: pp.depth, Clear: cleared[pp.depth]}
			}
			cmds = append(cmds, cmd)
		case PassCompute:
			cmds = append(cmds, ComputePipelineCommand{
				Pass:       pp.ref,
				Pipeline:   rt.pipeline,
				GroupCount: len(rt.groups),
			})
		default:
			cmds = append(cmds, GeneralCommand{Pass: pp.ref})
		}
	}

	bb := p.b.backbuffer
	if cur := state[bb]; cur != resource.StatePresentSource {
		src := resource.StageTopOfPipe
		if s, ok := lastStage[bb]; ok {
			src = s
		}
		cmds = append(cmds, PipelineBarrierCommand{
			SrcStage: src,
			DstStage: resource.StageTransfer,
			Barriers: []ImageBarrier{{Resource: bb, Old: cur, New: resource.StatePresentSource}},
		})
	}
	return cmds
}
