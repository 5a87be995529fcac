package pipeline

import "context"

// NestSequence embeds inner as one operation of host. The inner sequence
// runs on the value produced by mapInto and its result is folded back with
// mapOut. A false cond skips the whole nested subtree. The inner status
// tree becomes part of the host's tree.
func NestSequence[P, C any](host *Sequence[P], name string, cond func(P) bool, mapInto func(P) C, inner *Sequence[C], mapOut func(P, C) P) *Sequence[P] {
	host.AddIf(name, cond, func(ctx context.Context, v P) (P, error) {
		out, err := inner.Execute(ctx, mapInto(v))
		if err != nil {
			return v, err
		}
		return mapOut(v, out), nil
	})
	op := host.ops[len(host.ops)-1]
	op.status.Attach(inner.root)
	return host
}

// NestPipeline embeds an async pipeline as one operation of host. The
// pipeline's producer and stages run concurrently for the duration of the
// operation; its last value is folded back with mapOut. Sub-failures
// propagate as the operation's failure.
func NestPipeline[P, C any](host *Sequence[P], name string, mapInto func(P) C, makeInner func(C) *Pipeline[C], mapOut func(P, C) P) *Sequence[P] {
	var op *sequenceOp[P]
	host.Add(name, func(ctx context.Context, v P) (P, error) {
		inner := makeInner(mapInto(v))
		op.status.Attach(inner.root)
		out, err := inner.Execute(ctx)
		if err != nil {
			return v, err
		}
		return mapOut(v, out), nil
	})
	op = host.ops[len(host.ops)-1]
	return host
}
