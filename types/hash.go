package types

import (
	"hash/fnv"
	"math"
	"strings"
)

// ValueHash hashes a value structurally. Values that compare Equal
// hash identically: strings fold case first, and an int hashes like
// the float it equals never arises because Equal is kind-strict.
func ValueHash(v Value) uint64 {
	h := fnv.New64a()
	hashInto(h, v)
	return h.Sum64()
}

type hasher interface {
	Write(p []byte) (int, error)
}

func hashInto(h hasher, v Value) {
	// Tag each kind so composites with equal leaves stay distinct.
	h.Write([]byte{byte(v.Type())})
	switch val := v.(type) {
	case IntValue:
		writeUint64(h, uint64(val.Val))
	case FloatValue:
		writeUint64(h, math.Float64bits(val.Val))
	case BoolValue:
		if val.Val {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	case NoneValue:
	case StrValue:
		h.Write([]byte(strings.ToLower(val.Value())))
	case SymValue:
		h.Write([]byte(val.Name()))
	case ObjValue:
		writeUint64(h, uint64(int64(val.Val)))
	case ErrValue:
		writeUint64(h, uint64(val.Code))
	case ListValue:
		for _, e := range val.Elements() {
			hashInto(h, e)
		}
	case MapValue:
		for _, e := range val.Entries() {
			hashInto(h, e.Key)
			hashInto(h, e.Val)
		}
	case FlyweightValue:
		writeUint64(h, uint64(int64(val.Delegate())))
		hashInto(h, val.Slots())
		hashInto(h, val.Contents())
	}
}

func writeUint64(h hasher, u uint64) {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(u >> (8 * i))
	}
	h.Write(buf[:])
}
