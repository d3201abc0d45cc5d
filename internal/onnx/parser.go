package onnx

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ParseFile parses an ONNX model from file.
//
//nolint:gosec // G304: path is provided by the user, file inclusion is intentional
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse parses an ONNX model from protobuf wire bytes.
func Parse(data []byte) (*ModelProto, error) {
	model := &ModelProto{}
	if err := readModelProto(data, model); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return model, nil
}

func consumeVarint(b []byte) (uint64, []byte, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, nil, protowire.ParseError(n)
	}
	return v, b[n:], nil
}

func consumeBytes(b []byte) ([]byte, []byte, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, nil, protowire.ParseError(n)
	}
	return v, b[n:], nil
}

func consumeFloat32(b []byte) (float32, []byte, error) {
	v, n := protowire.ConsumeFixed32(b)
	if n < 0 {
		return 0, nil, protowire.ParseError(n)
	}
	return math.Float32frombits(v), b[n:], nil
}

func skipField(b []byte, num protowire.Number, typ protowire.Type) ([]byte, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return b[n:], nil
}

// readPackedInt64 reads a repeated int64 field that may be packed or not.
func readPackedInt64(b []byte, typ protowire.Type, dst []int64) ([]int64, []byte, error) {
	if typ == protowire.BytesType {
		payload, rest, err := consumeBytes(b)
		if err != nil {
			return nil, nil, err
		}
		for len(payload) > 0 {
			var v uint64
			v, payload, err = consumeVarint(payload)
			if err != nil {
				return nil, nil, err
			}
			dst = append(dst, int64(v))
		}
		return dst, rest, nil
	}
	v, rest, err := consumeVarint(b)
	if err != nil {
		return nil, nil, err
	}
	return append(dst, int64(v)), rest, nil
}

// readPackedFloat32 reads a repeated float field that may be packed or not.
func readPackedFloat32(b []byte, typ protowire.Type, dst []float32) ([]float32, []byte, error) {
	if typ == protowire.BytesType {
		payload, rest, err := consumeBytes(b)
		if err != nil {
			return nil, nil, err
		}
		for len(payload) > 0 {
			var v float32
			v, payload, err = consumeFloat32(payload)
			if err != nil {
				return nil, nil, err
			}
			dst = append(dst, v)
		}
		return dst, rest, nil
	}
	v, rest, err := consumeFloat32(b)
	if err != nil {
		return nil, nil, err
	}
	return append(dst, v), rest, nil
}

//nolint:gocognit,gocyclo,cyclop // protobuf decoding is a field-by-field switch per message type
func readModelProto(b []byte, m *ModelProto) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		switch num {
		case 1: // ir_version
			var v uint64
			v, b, err = consumeVarint(b)
			m.IRVersion = int64(v)
		case 2: // producer_name
			var s []byte
			s, b, err = consumeBytes(b)
			m.ProducerName = string(s)
		case 3: // producer_version
			var s []byte
			s, b, err = consumeBytes(b)
			m.ProducerVersion = string(s)
		case 4: // domain
			var s []byte
			s, b, err = consumeBytes(b)
			m.Domain = string(s)
		case 5: // model_version
			var v uint64
			v, b, err = consumeVarint(b)
			m.ModelVersion = int64(v)
		case 6: // doc_string
			var s []byte
			s, b, err = consumeBytes(b)
			m.DocString = string(s)
		case 7: // graph
			var payload []byte
			payload, b, err = consumeBytes(b)
			if err == nil {
				m.Graph = &GraphProto{}
				err = readGraphProto(payload, m.Graph)
			}
		case 8: // opset_import
			var payload []byte
			payload, b, err = consumeBytes(b)
			if err == nil {
				opset := OperatorSetID{}
				if err = readOperatorSetID(payload, &opset); err == nil {
					m.OpsetImport = append(m.OpsetImport, opset)
				}
			}
		case 14: // metadata_props
			var payload []byte
			payload, b, err = consumeBytes(b)
			if err == nil {
				entry := StringStringEntry{}
				if err = readStringStringEntry(payload, &entry); err == nil {
					m.MetadataProps = append(m.MetadataProps, entry)
				}
			}
		default:
			b, err = skipField(b, num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

//nolint:gocognit,gocyclo,cyclop // protobuf decoding is a field-by-field switch per message type
func readGraphProto(b []byte, m *GraphProto) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		switch num {
		case 1: // node
			var payload []byte
			payload, b, err = consumeBytes(b)
			if err == nil {
				node := NodeProto{}
				if err = readNodeProto(payload, &node); err == nil {
					m.Nodes = append(m.Nodes, node)
				}
			}
		case 2: // name
			var s []byte
			s, b, err = consumeBytes(b)
			m.Name = string(s)
		case 5: // initializer
			var payload []byte
			payload, b, err = consumeBytes(b)
			if err == nil {
				t := TensorProto{}
				if err = readTensorProto(payload, &t); err == nil {
					m.Initializers = append(m.Initializers, t)
				}
			}
		case 10: // doc_string
			var s []byte
			s, b, err = consumeBytes(b)
			m.DocString = string(s)
		case 11: // input
			var payload []byte
			payload, b, err = consumeBytes(b)
			if err == nil {
				vi := ValueInfoProto{}
				if err = readValueInfoProto(payload, &vi); err == nil {
					m.Inputs = append(m.Inputs, vi)
				}
			}
		case 12: // output
			var payload []byte
			payload, b, err = consumeBytes(b)
			if err == nil {
				vi := ValueInfoProto{}
				if err = readValueInfoProto(payload, &vi); err == nil {
					m.Outputs = append(m.Outputs, vi)
				}
			}
		case 13: // value_info
			var payload []byte
			payload, b, err = consumeBytes(b)
			if err == nil {
				vi := ValueInfoProto{}
				if err = readValueInfoProto(payload, &vi); err == nil {
					m.ValueInfo = append(m.ValueInfo, vi)
				}
			}
		default:
			b, err = skipField(b, num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

//nolint:gocognit,gocyclo,cyclop // protobuf decoding is a field-by-field switch per message type
func readNodeProto(b []byte, m *NodeProto) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		switch num {
		case 1: // input
			var s []byte
			s, b, err = consumeBytes(b)
			m.Inputs = append(m.Inputs, string(s))
		case 2: // output
			var s []byte
			s, b, err = consumeBytes(b)
			m.Outputs = append(m.Outputs, string(s))
		case 3: // name
			var s []byte
			s, b, err = consumeBytes(b)
			m.Name = string(s)
		case 4: // op_type
			var s []byte
			s, b, err = consumeBytes(b)
			m.OpType = string(s)
		case 5: // attribute
			var payload []byte
			payload, b, err = consumeBytes(b)
			if err == nil {
				attr := AttributeProto{}
				if err = readAttributeProto(payload, &attr); err == nil {
					m.Attributes = append(m.Attributes, attr)
				}
			}
		case 6: // doc_string
			var s []byte
			s, b, err = consumeBytes(b)
			m.DocString = string(s)
		case 7: // domain
			var s []byte
			s, b, err = consumeBytes(b)
			m.Domain = string(s)
		default:
			b, err = skipField(b, num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

//nolint:gocognit,gocyclo,cyclop,funlen // protobuf decoding is a field-by-field switch per message type
func readTensorProto(b []byte, m *TensorProto) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		switch num {
		case 1: // dims
			m.Dims, b, err = readPackedInt64(b, typ, m.Dims)
		case 2: // data_type
			var v uint64
			v, b, err = consumeVarint(b)
			m.DataType = int32(v) //nolint:gosec // G115: data-type codes fit in int32
		case 4: // float_data
			m.FloatData, b, err = readPackedFloat32(b, typ, m.FloatData)
		case 5: // int32_data
			var vals []int64
			vals, b, err = readPackedInt64(b, typ, nil)
			for _, v := range vals {
				m.Int32Data = append(m.Int32Data, int32(v)) //nolint:gosec // G115: int32 payload by contract
			}
		case 7: // int64_data
			m.Int64Data, b, err = readPackedInt64(b, typ, m.Int64Data)
		case 8: // name
			var s []byte
			s, b, err = consumeBytes(b)
			m.Name = string(s)
		case 9: // raw_data
			var s []byte
			s, b, err = consumeBytes(b)
			m.RawData = append([]byte(nil), s...)
		case 10: // double_data
			if typ == protowire.BytesType {
				var payload []byte
				payload, b, err = consumeBytes(b)
				for err == nil && len(payload) > 0 {
					v, n2 := protowire.ConsumeFixed64(payload)
					if n2 < 0 {
						err = protowire.ParseError(n2)
						break
					}
					m.DoubleData = append(m.DoubleData, math.Float64frombits(v))
					payload = payload[n2:]
				}
			} else {
				v, n2 := protowire.ConsumeFixed64(b)
				if n2 < 0 {
					err = protowire.ParseError(n2)
				} else {
					m.DoubleData = append(m.DoubleData, math.Float64frombits(v))
					b = b[n2:]
				}
			}
		case 12: // doc_string
			var s []byte
			s, b, err = consumeBytes(b)
			m.DocString = string(s)
		default:
			b, err = skipField(b, num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func readValueInfoProto(b []byte, m *ValueInfoProto) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		switch num {
		case 1: // name
			var s []byte
			s, b, err = consumeBytes(b)
			m.Name = string(s)
		case 2: // type
			var payload []byte
			payload, b, err = consumeBytes(b)
			if err == nil {
				m.Type = &TypeProto{}
				err = readTypeProto(payload, m.Type)
			}
		case 3: // doc_string
			var s []byte
			s, b, err = consumeBytes(b)
			m.DocString = string(s)
		default:
			b, err = skipField(b, num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func readTypeProto(b []byte, m *TypeProto) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		switch num {
		case 1: // tensor_type
			var payload []byte
			payload, b, err = consumeBytes(b)
			if err == nil {
				m.TensorType = &TensorTypeProto{}
				err = readTensorTypeProto(payload, m.TensorType)
			}
		default:
			b, err = skipField(b, num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func readTensorTypeProto(b []byte, m *TensorTypeProto) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		switch num {
		case 1: // elem_type
			var v uint64
			v, b, err = consumeVarint(b)
			m.ElemType = int32(v) //nolint:gosec // G115: data-type codes fit in int32
		case 2: // shape
			var payload []byte
			payload, b, err = consumeBytes(b)
			if err == nil {
				m.Shape = &TensorShapeProto{}
				err = readTensorShapeProto(payload, m.Shape)
			}
		default:
			b, err = skipField(b, num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func readTensorShapeProto(b []byte, m *TensorShapeProto) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		switch num {
		case 1: // dim
			var payload []byte
			payload, b, err = consumeBytes(b)
			if err == nil {
				dim := DimensionProto{}
				if err = readDimensionProto(payload, &dim); err == nil {
					m.Dims = append(m.Dims, dim)
				}
			}
		default:
			b, err = skipField(b, num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func readDimensionProto(b []byte, m *DimensionProto) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		switch num {
		case 1: // dim_value
			var v uint64
			v, b, err = consumeVarint(b)
			m.DimValue = int64(v)
			m.HasDimValue = true
		case 2: // dim_param
			var s []byte
			s, b, err = consumeBytes(b)
			m.DimParam = string(s)
		default:
			b, err = skipField(b, num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

//nolint:gocognit,gocyclo,cyclop,funlen // protobuf decoding is a field-by-field switch per message type
func readAttributeProto(b []byte, m *AttributeProto) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		switch num {
		case 1: // name
			var s []byte
			s, b, err = consumeBytes(b)
			m.Name = string(s)
		case 2: // f
			m.F, b, err = consumeFloat32(b)
		case 3: // i
			var v uint64
			v, b, err = consumeVarint(b)
			m.I = int64(v)
		case 4: // s
			var s []byte
			s, b, err = consumeBytes(b)
			m.S = append([]byte(nil), s...)
		case 5: // t
			var payload []byte
			payload, b, err = consumeBytes(b)
			if err == nil {
				m.T = &TensorProto{}
				err = readTensorProto(payload, m.T)
			}
		case 6: // g
			var payload []byte
			payload, b, err = consumeBytes(b)
			if err == nil {
				m.G = &GraphProto{}
				err = readGraphProto(payload, m.G)
			}
		case 7: // floats
			m.Floats, b, err = readPackedFloat32(b, typ, m.Floats)
		case 8: // ints
			m.Ints, b, err = readPackedInt64(b, typ, m.Ints)
		case 9: // strings
			var s []byte
			s, b, err = consumeBytes(b)
			m.Strings = append(m.Strings, append([]byte(nil), s...))
		case 13: // doc_string
			var s []byte
			s, b, err = consumeBytes(b)
			m.DocString = string(s)
		case 20: // type
			var v uint64
			v, b, err = consumeVarint(b)
			m.Type = int32(v) //nolint:gosec // G115: attribute-type codes fit in int32
		default:
			b, err = skipField(b, num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func readOperatorSetID(b []byte, m *OperatorSetID) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		switch num {
		case 1: // domain
			var s []byte
			s, b, err = consumeBytes(b)
			m.Domain = string(s)
		case 2: // version
			var v uint64
			v, b, err = consumeVarint(b)
			m.Version = int64(v)
		default:
			b, err = skipField(b, num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func readStringStringEntry(b []byte, m *StringStringEntry) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		switch num {
		case 1: // key
			var s []byte
			s, b, err = consumeBytes(b)
			m.Key = string(s)
		case 2: // value
			var s []byte
			s, b, err = consumeBytes(b)
			m.Value = string(s)
		default:
			b, err = skipField(b, num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
