package db

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/Oliver2213/moor/types"
)

// cborEnc is the canonical encoding mode used for every persisted
// record, so identical state always serializes to identical bytes.
var cborEnc cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("db: failed to create CBOR enc mode: %v", err))
	}
	cborEnc = em
}

// wireValue is the serialized form of a types.Value. One struct
// covers all kinds; T selects which payload fields matter.
type wireValue struct {
	T int          `cbor:"t"`
	I int64        `cbor:"i,omitempty"`
	F float64      `cbor:"f,omitempty"`
	S string       `cbor:"s,omitempty"`
	B bool         `cbor:"b,omitempty"`
	L []wireValue  `cbor:"l,omitempty"`
	P []wirePair   `cbor:"p,omitempty"`
	W *wireFlyweight `cbor:"w,omitempty"`
}

type wirePair struct {
	K wireValue `cbor:"k"`
	V wireValue `cbor:"v"`
}

type wireFlyweight struct {
	Delegate int64      `cbor:"d"`
	Slots    []wirePair `cbor:"s,omitempty"`
	Contents []wireValue `cbor:"c,omitempty"`
}

func toWire(v types.Value) wireValue {
	switch val := v.(type) {
	case types.IntValue:
		return wireValue{T: int(types.TYPE_INT), I: val.Val}
	case types.FloatValue:
		return wireValue{T: int(types.TYPE_FLOAT), F: val.Val}
	case types.StrValue:
		return wireValue{T: int(types.TYPE_STR), S: val.Value()}
	case types.SymValue:
		return wireValue{T: int(types.TYPE_SYM), S: val.Name()}
	case types.ObjValue:
		return wireValue{T: int(types.TYPE_OBJ), I: int64(val.Val)}
	case types.ErrValue:
		return wireValue{T: int(types.TYPE_ERR), I: int64(val.Code), S: val.Message()}
	case types.BoolValue:
		return wireValue{T: int(types.TYPE_BOOL), B: val.Val}
	case types.NoneValue:
		return wireValue{T: int(types.TYPE_NONE)}
	case types.ListValue:
		elems := make([]wireValue, val.Len())
		for i, e := range val.Elements() {
			elems[i] = toWire(e)
		}
		return wireValue{T: int(types.TYPE_LIST), L: elems}
	case types.MapValue:
		pairs := make([]wirePair, val.Len())
		for i, e := range val.Entries() {
			pairs[i] = wirePair{K: toWire(e.Key), V: toWire(e.Val)}
		}
		return wireValue{T: int(types.TYPE_MAP), P: pairs}
	case types.FlyweightValue:
		slots := make([]wirePair, 0, val.Slots().Len())
		for _, e := range val.Slots().Entries() {
			slots = append(slots, wirePair{K: toWire(e.Key), V: toWire(e.Val)})
		}
		contents := make([]wireValue, 0, val.Contents().Len())
		for _, e := range val.Contents().Elements() {
			contents = append(contents, toWire(e))
		}
		return wireValue{T: int(types.TYPE_FLYWEIGHT), W: &wireFlyweight{
			Delegate: int64(val.Delegate()),
			Slots:    slots,
			Contents: contents,
		}}
	}
	return wireValue{T: int(types.TYPE_NONE)}
}

func fromWire(w wireValue) (types.Value, error) {
	switch types.TypeCode(w.T) {
	case types.TYPE_INT:
		return types.NewInt(w.I), nil
	case types.TYPE_FLOAT:
		return types.NewFloat(w.F), nil
	case types.TYPE_STR:
		return types.NewStr(w.S), nil
	case types.TYPE_SYM:
		return types.NewSym(w.S), nil
	case types.TYPE_OBJ:
		return types.NewObj(types.ObjID(w.I)), nil
	case types.TYPE_ERR:
		return types.NewErrMsg(types.ErrorCode(w.I), w.S), nil
	case types.TYPE_BOOL:
		return types.NewBool(w.B), nil
	case types.TYPE_NONE:
		return types.None(), nil
	case types.TYPE_LIST:
		elems := make([]types.Value, len(w.L))
		for i, e := range w.L {
			v, err := fromWire(e)
			if err != nil {
				return nil, err
			}
			elems[i] = v
		}
		return types.NewList(elems), nil
	case types.TYPE_MAP:
		m := types.NewEmptyMap()
		for _, p := range w.P {
			k, err := fromWire(p.K)
			if err != nil {
				return nil, err
			}
			v, err := fromWire(p.V)
			if err != nil {
				return nil, err
			}
			m = m.Set(k, v)
		}
		return m, nil
	case types.TYPE_FLYWEIGHT:
		if w.W == nil {
			return nil, fmt.Errorf("db: flyweight wire value missing payload")
		}
		slots := types.NewEmptyMap()
		for _, p := range w.W.Slots {
			k, err := fromWire(p.K)
			if err != nil {
				return nil, err
			}
			v, err := fromWire(p.V)
			if err != nil {
				return nil, err
			}
			slots = slots.Set(k, v)
		}
		contents := make([]types.Value, len(w.W.Contents))
		for i, e := range w.W.Contents {
			v, err := fromWire(e)
			if err != nil {
				return nil, err
			}
			contents[i] = v
		}
		return types.NewFlyweight(types.ObjID(w.W.Delegate), slots, types.NewList(contents)), nil
	}
	return nil, fmt.Errorf("db: unknown wire type %d", w.T)
}

// MarshalValue serializes a value to canonical CBOR.
func MarshalValue(v types.Value) ([]byte, error) {
	return cborEnc.Marshal(toWire(v))
}

// UnmarshalValue reads a value back from CBOR bytes.
func UnmarshalValue(data []byte) (types.Value, error) {
	var w wireValue
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("db: unmarshal value: %w", err)
	}
	return fromWire(w)
}
