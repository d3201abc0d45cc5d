package onnx

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// Serialize encodes an ONNX model to protobuf wire bytes.
func Serialize(m *ModelProto) []byte {
	return appendModelProto(nil, m)
}

// SerializeToFile encodes an ONNX model and writes it to path.
func SerializeToFile(m *ModelProto, path string) error {
	data := Serialize(m)
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // G306: model files are not secrets
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSubmessage(b []byte, num protowire.Number, payload []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

func appendPackedInt64(b []byte, num protowire.Number, vals []int64) []byte {
	if len(vals) == 0 {
		return b
	}
	var payload []byte
	for _, v := range vals {
		payload = protowire.AppendVarint(payload, uint64(v))
	}
	return appendSubmessage(b, num, payload)
}

func appendPackedFloat32(b []byte, num protowire.Number, vals []float32) []byte {
	if len(vals) == 0 {
		return b
	}
	var payload []byte
	for _, v := range vals {
		payload = protowire.AppendFixed32(payload, math.Float32bits(v))
	}
	return appendSubmessage(b, num, payload)
}

func appendModelProto(b []byte, m *ModelProto) []byte {
	if m.IRVersion != 0 {
		b = appendVarintField(b, 1, uint64(m.IRVersion))
	}
	if m.ProducerName != "" {
		b = appendString(b, 2, m.ProducerName)
	}
	if m.ProducerVersion != "" {
		b = appendString(b, 3, m.ProducerVersion)
	}
	if m.Domain != "" {
		b = appendString(b, 4, m.Domain)
	}
	if m.ModelVersion != 0 {
		b = appendVarintField(b, 5, uint64(m.ModelVersion))
	}
	if m.DocString != "" {
		b = appendString(b, 6, m.DocString)
	}
	if m.Graph != nil {
		b = appendSubmessage(b, 7, appendGraphProto(nil, m.Graph))
	}
	for i := range m.OpsetImport {
		b = appendSubmessage(b, 8, appendOperatorSetID(nil, &m.OpsetImport[i]))
	}
	for i := range m.MetadataProps {
		b = appendSubmessage(b, 14, appendStringStringEntry(nil, &m.MetadataProps[i]))
	}
	return b
}

func appendGraphProto(b []byte, m *GraphProto) []byte {
	for i := range m.Nodes {
		b = appendSubmessage(b, 1, appendNodeProto(nil, &m.Nodes[i]))
	}
	if m.Name != "" {
		b = appendString(b, 2, m.Name)
	}
	for i := range m.Initializers {
		b = appendSubmessage(b, 5, appendTensorProto(nil, &m.Initializers[i]))
	}
	if m.DocString != "" {
		b = appendString(b, 10, m.DocString)
	}
	for i := range m.Inputs {
		b = appendSubmessage(b, 11, appendValueInfoProto(nil, &m.Inputs[i]))
	}
	for i := range m.Outputs {
		b = appendSubmessage(b, 12, appendValueInfoProto(nil, &m.Outputs[i]))
	}
	for i := range m.ValueInfo {
		b = appendSubmessage(b, 13, appendValueInfoProto(nil, &m.ValueInfo[i]))
	}
	return b
}

func appendNodeProto(b []byte, m *NodeProto) []byte {
	for _, in := range m.Inputs {
		b = appendString(b, 1, in)
	}
	for _, out := range m.Outputs {
		b = appendString(b, 2, out)
	}
	if m.Name != "" {
		b = appendString(b, 3, m.Name)
	}
	if m.OpType != "" {
		b = appendString(b, 4, m.OpType)
	}
	for i := range m.Attributes {
		b = appendSubmessage(b, 5, appendAttributeProto(nil, &m.Attributes[i]))
	}
	if m.DocString != "" {
		b = appendString(b, 6, m.DocString)
	}
	if m.Domain != "" {
		b = appendString(b, 7, m.Domain)
	}
	return b
}

func appendTensorProto(b []byte, m *TensorProto) []byte {
	b = appendPackedInt64(b, 1, m.Dims)
	if m.DataType != 0 {
		b = appendVarintField(b, 2, uint64(m.DataType))
	}
	b = appendPackedFloat32(b, 4, m.FloatData)
	if len(m.Int32Data) > 0 {
		var payload []byte
		for _, v := range m.Int32Data {
			payload = protowire.AppendVarint(payload, uint64(int64(v)))
		}
		b = appendSubmessage(b, 5, payload)
	}
	b = appendPackedInt64(b, 7, m.Int64Data)
	if m.Name != "" {
		b = appendString(b, 8, m.Name)
	}
	if len(m.RawData) > 0 {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, m.RawData)
	}
	if len(m.DoubleData) > 0 {
		var payload []byte
		for _, v := range m.DoubleData {
			payload = protowire.AppendFixed64(payload, math.Float64bits(v))
		}
		b = appendSubmessage(b, 10, payload)
	}
	if m.DocString != "" {
		b = appendString(b, 12, m.DocString)
	}
	return b
}

func appendValueInfoProto(b []byte, m *ValueInfoProto) []byte {
	if m.Name != "" {
		b = appendString(b, 1, m.Name)
	}
	if m.Type != nil {
		b = appendSubmessage(b, 2, appendTypeProto(nil, m.Type))
	}
	if m.DocString != "" {
		b = appendString(b, 3, m.DocString)
	}
	return b
}

func appendTypeProto(b []byte, m *TypeProto) []byte {
	if m.TensorType != nil {
		b = appendSubmessage(b, 1, appendTensorTypeProto(nil, m.TensorType))
	}
	return b
}

func appendTensorTypeProto(b []byte, m *TensorTypeProto) []byte {
	if m.ElemType != 0 {
		b = appendVarintField(b, 1, uint64(m.ElemType))
	}
	if m.Shape != nil {
		b = appendSubmessage(b, 2, appendTensorShapeProto(nil, m.Shape))
	}
	return b
}

func appendTensorShapeProto(b []byte, m *TensorShapeProto) []byte {
	for i := range m.Dims {
		b = appendSubmessage(b, 1, appendDimensionProto(nil, &m.Dims[i]))
	}
	return b
}

func appendDimensionProto(b []byte, m *DimensionProto) []byte {
	switch {
	case m.HasDimValue:
		b = appendVarintField(b, 1, uint64(m.DimValue))
	case m.DimParam != "":
		b = appendString(b, 2, m.DimParam)
	}
	return b
}

func appendAttributeProto(b []byte, m *AttributeProto) []byte {
	if m.Name != "" {
		b = appendString(b, 1, m.Name)
	}
	if m.Type == AttributeProtoFloat || m.F != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(m.F))
	}
	if m.Type == AttributeProtoInt || m.I != 0 {
		b = appendVarintField(b, 3, uint64(m.I))
	}
	if len(m.S) > 0 {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, m.S)
	}
	if m.T != nil {
		b = appendSubmessage(b, 5, appendTensorProto(nil, m.T))
	}
	if m.G != nil {
		b = appendSubmessage(b, 6, appendGraphProto(nil, m.G))
	}
	b = appendPackedFloat32(b, 7, m.Floats)
	b = appendPackedInt64(b, 8, m.Ints)
	for _, s := range m.Strings {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, s)
	}
	for i := range m.Tensors {
		b = appendSubmessage(b, 10, appendTensorProto(nil, &m.Tensors[i]))
	}
	for i := range m.Graphs {
		b = appendSubmessage(b, 11, appendGraphProto(nil, &m.Graphs[i]))
	}
	if m.DocString != "" {
		b = appendString(b, 13, m.DocString)
	}
	if m.Type != 0 {
		b = appendVarintField(b, 20, uint64(m.Type))
	}
	return b
}

func appendOperatorSetID(b []byte, m *OperatorSetID) []byte {
	if m.Domain != "" {
		b = appendString(b, 1, m.Domain)
	}
	if m.Version != 0 {
		b = appendVarintField(b, 2, uint64(m.Version))
	}
	return b
}

func appendStringStringEntry(b []byte, m *StringStringEntry) []byte {
	if m.Key != "" {
		b = appendString(b, 1, m.Key)
	}
	if m.Value != "" {
		b = appendString(b, 2, m.Value)
	}
	return b
}
