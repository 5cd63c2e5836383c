package checkpoints

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire layout of a snapshot:
//
//	message StateDict {
//	  repeated Entry weights  = 1;
//	  Metadata       metadata = 2;
//	}
//	message Entry {
//	  string          name  = 1;
//	  repeated int64  shape = 2 [packed = true];
//	  repeated double data  = 3 [packed = true];
//	}
//	message Metadata {
//	  string framework        = 1;
//	  string version          = 2;
//	  int64  created_unix_nano = 3;
//	  string description      = 4;
//	}
const (
	fieldStateWeights  protowire.Number = 1
	fieldStateMetadata protowire.Number = 2

	fieldEntryName  protowire.Number = 1
	fieldEntryShape protowire.Number = 2
	fieldEntryData  protowire.Number = 3

	fieldMetaFramework   protowire.Number = 1
	fieldMetaVersion     protowire.Number = 2
	fieldMetaCreatedAt   protowire.Number = 3
	fieldMetaDescription protowire.Number = 4
)

func marshalStateDict(sd *StateDict) []byte {
	var b []byte
	for _, w := range sd.Weights {
		b = protowire.AppendTag(b, fieldStateWeights, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalEntry(w))
	}
	b = protowire.AppendTag(b, fieldStateMetadata, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalMetadata(sd.Metadata))
	return b
}

func marshalEntry(w WeightTensor) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldEntryName, protowire.BytesType)
	b = protowire.AppendString(b, w.Name)

	var shape []byte
	for _, d := range w.Shape {
		shape = protowire.AppendVarint(shape, uint64(int64(d)))
	}
	b = protowire.AppendTag(b, fieldEntryShape, protowire.BytesType)
	b = protowire.AppendBytes(b, shape)

	data := make([]byte, 0, 8*len(w.Data))
	for _, v := range w.Data {
		data = protowire.AppendFixed64(data, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, fieldEntryData, protowire.BytesType)
	b = protowire.AppendBytes(b, data)
	return b
}

func marshalMetadata(m CheckpointMetadata) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldMetaFramework, protowire.BytesType)
	b = protowire.AppendString(b, m.Framework)
	b = protowire.AppendTag(b, fieldMetaVersion, protowire.BytesType)
	b = protowire.AppendString(b, m.Version)
	if !m.CreatedAt.IsZero() {
		b = protowire.AppendTag(b, fieldMetaCreatedAt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.CreatedAt.UnixNano()))
	}
	if m.Description != "" {
		b = protowire.AppendTag(b, fieldMetaDescription, protowire.BytesType)
		b = protowire.AppendString(b, m.Description)
	}
	return b
}

// fieldVisitor is called for each field of a message. It returns the number of
// bytes consumed from b, or a negative protowire error code.
type fieldVisitor func(num protowire.Number, typ protowire.Type, b []byte) int

func walkMessage(b []byte, visit fieldVisitor) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		b = b[n:]

		m := visit(num, typ, b)
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrCorrupt, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func unmarshalStateDict(b []byte) (*StateDict, error) {
	sd := NewStateDict()
	var inner error
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if typ != protowire.BytesType {
			return 0
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		switch num {
		case fieldStateWeights:
			w, err := unmarshalEntry(v)
			if err != nil {
				inner = err
				return n
			}
			sd.Weights = append(sd.Weights, w)
		case fieldStateMetadata:
			m, err := unmarshalMetadata(v)
			if err != nil {
				inner = err
				return n
			}
			sd.Metadata = m
		}
		return n
	})
	if err != nil {
		return nil, err
	}
	if inner != nil {
		return nil, inner
	}
	return sd, nil
}

func unmarshalEntry(b []byte) (WeightTensor, error) {
	var w WeightTensor
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == fieldEntryName && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			w.Name = s
			return n
		case num == fieldEntryShape && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return m
				}
				w.Shape = append(w.Shape, int(int64(v)))
				packed = packed[m:]
			}
			return n
		case num == fieldEntryShape && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			w.Shape = append(w.Shape, int(int64(v)))
			return n
		case num == fieldEntryData && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			if len(packed)%8 != 0 {
				return -1
			}
			w.Data = make([]float64, 0, len(packed)/8)
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed64(packed)
				if m < 0 {
					return m
				}
				w.Data = append(w.Data, math.Float64frombits(v))
				packed = packed[m:]
			}
			return n
		case num == fieldEntryData && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			w.Data = append(w.Data, math.Float64frombits(v))
			return n
		}
		return 0
	})
	if err != nil {
		return w, err
	}

	elems := 1
	for _, d := range w.Shape {
		elems *= d
	}
	if len(w.Shape) == 0 || elems != len(w.Data) {
		return w, fmt.Errorf("%w: entry %q has shape %v but %d values", ErrCorrupt, w.Name, w.Shape, len(w.Data))
	}
	return w, nil
}

func unmarshalMetadata(b []byte) (CheckpointMetadata, error) {
	var m CheckpointMetadata
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == fieldMetaFramework && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			m.Framework = s
			return n
		case num == fieldMetaVersion && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			m.Version = s
			return n
		case num == fieldMetaCreatedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.CreatedAt = time.Unix(0, int64(v))
			return n
		case num == fieldMetaDescription && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			m.Description = s
			return n
		}
		return 0
	})
	return m, err
}
