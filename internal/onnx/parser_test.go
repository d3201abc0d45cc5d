package onnx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protowire"
)

// TestParseSimpleAdd tests parsing a minimal model: Z = X + Y.
func TestParseSimpleAdd(t *testing.T) {
	data := Serialize(buildSimpleAddModel())

	model, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if model.IRVersion != 7 {
		t.Errorf("Expected IR version 7, got %d", model.IRVersion)
	}

	if model.Graph == nil {
		t.Fatal("Graph is nil")
	}

	if len(model.Graph.Nodes) != 1 {
		t.Fatalf("Expected 1 node, got %d", len(model.Graph.Nodes))
	}

	node := model.Graph.Nodes[0]
	if node.OpType != "Add" {
		t.Errorf("Expected OpType 'Add', got '%s'", node.OpType)
	}

	if len(node.Inputs) != 2 {
		t.Errorf("Expected 2 inputs, got %d", len(node.Inputs))
	}

	if len(node.Outputs) != 1 {
		t.Errorf("Expected 1 output, got %d", len(node.Outputs))
	}
}

// TestParseWithInitializer tests parsing a model with a weight tensor.
func TestParseWithInitializer(t *testing.T) {
	data := Serialize(buildMatMulModel())

	model, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if model.Graph == nil {
		t.Fatal("Graph is nil")
	}

	if len(model.Graph.Initializers) != 1 {
		t.Fatalf("Expected 1 initializer, got %d", len(model.Graph.Initializers))
	}

	init := model.Graph.Initializers[0]
	if init.Name != "W" {
		t.Errorf("Expected initializer name 'W', got '%s'", init.Name)
	}

	if init.DataType != TensorProtoFloat {
		t.Errorf("Expected data type float32, got %d", init.DataType)
	}

	if len(init.Dims) != 2 {
		t.Errorf("Expected 2 dims, got %d", len(init.Dims))
	}

	expectedSize := 4 * 4 * 4 // 4x4 matrix, float32 = 4 bytes
	if len(init.RawData) != expectedSize {
		t.Errorf("Expected raw data size %d, got %d", expectedSize, len(init.RawData))
	}
}

// TestParseInputOutput tests parsing input/output specifications.
func TestParseInputOutput(t *testing.T) {
	data := Serialize(buildSimpleAddModel())

	model, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(model.Graph.Inputs) != 2 {
		t.Errorf("Expected 2 inputs, got %d", len(model.Graph.Inputs))
	}

	if len(model.Graph.Outputs) != 1 {
		t.Errorf("Expected 1 output, got %d", len(model.Graph.Outputs))
	}

	input := model.Graph.Inputs[0]
	if input.Name != "X" {
		t.Errorf("Expected input name 'X', got '%s'", input.Name)
	}

	if input.Type == nil || input.Type.TensorType == nil {
		t.Fatal("Input type info is nil")
	}

	if input.Type.TensorType.ElemType != TensorProtoFloat {
		t.Errorf("Expected float32 type, got %d", input.Type.TensorType.ElemType)
	}

	shape := input.Type.TensorType.Shape
	if shape == nil || len(shape.Dims) != 2 {
		t.Fatal("Input shape missing or wrong rank")
	}

	if shape.Dims[0].DimParam != "batch" {
		t.Errorf("Expected symbolic dim 'batch', got '%s'", shape.Dims[0].DimParam)
	}

	if !shape.Dims[1].HasDimValue || shape.Dims[1].DimValue != 784 {
		t.Errorf("Expected static dim 784, got %+v", shape.Dims[1])
	}
}

// TestParseOpsetVersion tests parsing opset imports.
func TestParseOpsetVersion(t *testing.T) {
	data := Serialize(buildSimpleAddModel())

	model, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(model.OpsetImport) != 1 {
		t.Fatalf("Expected 1 opset import, got %d", len(model.OpsetImport))
	}

	opset := model.OpsetImport[0]
	if opset.Version != 13 {
		t.Errorf("Expected opset version 13, got %d", opset.Version)
	}
}

// TestParseAttributes tests parsing the attribute payload kinds the engine
// relies on: ints, float, string, and int.
func TestParseAttributes(t *testing.T) {
	model := buildSimpleAddModel()
	model.Graph.Nodes[0].Attributes = []AttributeProto{
		{Name: "perm", Type: AttributeProtoInts, Ints: []int64{0, 2, 1}},
		{Name: "alpha", Type: AttributeProtoFloat, F: 0.5},
		{Name: "mode", Type: AttributeProtoString, S: []byte("constant")},
		{Name: "to", Type: AttributeProtoInt, I: 1},
	}

	parsed, err := Parse(Serialize(model))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	attrs := parsed.Graph.Nodes[0].Attributes
	if len(attrs) != 4 {
		t.Fatalf("Expected 4 attributes, got %d", len(attrs))
	}

	if attrs[0].Name != "perm" || len(attrs[0].Ints) != 3 || attrs[0].Ints[1] != 2 {
		t.Errorf("perm attribute mismatch: %+v", attrs[0])
	}

	if attrs[1].F != 0.5 {
		t.Errorf("Expected alpha 0.5, got %v", attrs[1].F)
	}

	if string(attrs[2].S) != "constant" {
		t.Errorf("Expected mode 'constant', got '%s'", attrs[2].S)
	}

	if attrs[3].I != 1 {
		t.Errorf("Expected to=1, got %d", attrs[3].I)
	}
}

// TestParseSubgraphAttribute tests parsing a nested graph attribute.
func TestParseSubgraphAttribute(t *testing.T) {
	body := &GraphProto{
		Name: "body",
		Nodes: []NodeProto{
			{Name: "relu", OpType: "Relu", Inputs: []string{"bx"}, Outputs: []string{"by"}},
		},
	}
	model := buildSimpleAddModel()
	model.Graph.Nodes[0].Attributes = []AttributeProto{
		{Name: "then_branch", Type: AttributeProtoGraph, G: body},
	}

	parsed, err := Parse(Serialize(model))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	attr := parsed.Graph.Nodes[0].Attributes[0]
	if attr.G == nil {
		t.Fatal("Subgraph attribute is nil")
	}

	if attr.G.Name != "body" || len(attr.G.Nodes) != 1 {
		t.Errorf("Subgraph mismatch: %+v", attr.G)
	}

	if attr.G.Nodes[0].OpType != "Relu" {
		t.Errorf("Expected Relu in subgraph, got '%s'", attr.G.Nodes[0].OpType)
	}
}

// TestParseUnpackedRepeated tests that non-packed repeated varint fields are
// accepted; some exporters emit dims one tag at a time.
func TestParseUnpackedRepeated(t *testing.T) {
	var b []byte
	for _, dim := range []int64{2, 3} {
		b = protowire.AppendTag(b, 1, protowire.VarintType) // dims
		b = protowire.AppendVarint(b, uint64(dim))
	}
	b = protowire.AppendTag(b, 2, protowire.VarintType) // data_type
	b = protowire.AppendVarint(b, TensorProtoFloat)

	tensor := TensorProto{}
	if err := readTensorProto(b, &tensor); err != nil {
		t.Fatalf("readTensorProto failed: %v", err)
	}

	if len(tensor.Dims) != 2 || tensor.Dims[0] != 2 || tensor.Dims[1] != 3 {
		t.Errorf("Expected dims [2 3], got %v", tensor.Dims)
	}
}

// TestParseSkipsUnknownFields tests that unknown field numbers are skipped.
func TestParseSkipsUnknownFields(t *testing.T) {
	data := Serialize(buildSimpleAddModel())

	// Append an unknown field (number 99) at top level.
	data = protowire.AppendTag(data, 99, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte("future extension"))

	model, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if model.Graph == nil || len(model.Graph.Nodes) != 1 {
		t.Error("Known fields lost while skipping unknown field")
	}
}

// TestParseTruncated tests that truncated payloads report an error.
func TestParseTruncated(t *testing.T) {
	data := Serialize(buildSimpleAddModel())

	_, err := Parse(data[:len(data)-3])
	if err == nil {
		t.Error("Expected error for truncated data, got nil")
	}
}

// TestRoundTrip tests that Serialize and Parse are inverse for a model
// exercising every message type the codec handles.
func TestRoundTrip(t *testing.T) {
	model := &ModelProto{
		IRVersion:       8,
		ProducerName:    "onnxruntime-test",
		ProducerVersion: "0.1",
		ModelVersion:    3,
		DocString:       "round trip fixture",
		OpsetImport: []OperatorSetID{
			{Domain: "", Version: 13},
			{Domain: "com.microsoft", Version: 1},
		},
		MetadataProps: []StringStringEntry{{Key: "author", Value: "test"}},
		Graph: &GraphProto{
			Name: "fixture",
			Nodes: []NodeProto{
				{
					Name:    "transpose",
					OpType:  "Transpose",
					Inputs:  []string{"X"},
					Outputs: []string{"XT"},
					Attributes: []AttributeProto{
						{Name: "perm", Type: AttributeProtoInts, Ints: []int64{1, 0}},
					},
				},
				{
					Name:    "matmul",
					OpType:  "FusedMatMul",
					Domain:  "com.microsoft",
					Inputs:  []string{"XT", "W"},
					Outputs: []string{"Y"},
					Attributes: []AttributeProto{
						{Name: "alpha", Type: AttributeProtoFloat, F: 1.5},
						{Name: "transA", Type: AttributeProtoInt, I: 1},
					},
				},
			},
			Initializers: []TensorProto{
				{Name: "W", DataType: TensorProtoFloat, Dims: []int64{4, 2}, RawData: make([]byte, 32)},
			},
			Inputs: []ValueInfoProto{
				makeValueInfo("X", TensorProtoFloat, []DimensionProto{
					{DimParam: "batch"},
					{DimValue: 4, HasDimValue: true},
				}),
			},
			Outputs: []ValueInfoProto{
				makeValueInfo("Y", TensorProtoFloat, []DimensionProto{
					{DimParam: "batch"},
					{DimValue: 2, HasDimValue: true},
				}),
			},
			ValueInfo: []ValueInfoProto{
				makeValueInfo("XT", TensorProtoFloat, []DimensionProto{
					{DimValue: 4, HasDimValue: true},
					{DimParam: "batch"},
				}),
			},
		},
	}

	parsed, err := Parse(Serialize(model))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if diff := cmp.Diff(model, parsed); diff != "" {
		t.Errorf("Round trip mismatch (-want +got):\n%s", diff)
	}
}

// TestRoundTripZeroDim tests that a static zero dimension survives the
// dim_value/dim_param oneof.
func TestRoundTripZeroDim(t *testing.T) {
	vi := makeValueInfo("empty", TensorProtoFloat, []DimensionProto{
		{DimValue: 0, HasDimValue: true},
		{DimValue: 3, HasDimValue: true},
	})

	parsed := ValueInfoProto{}
	if err := readValueInfoProto(appendValueInfoProto(nil, &vi), &parsed); err != nil {
		t.Fatalf("readValueInfoProto failed: %v", err)
	}

	dims := parsed.Type.TensorType.Shape.Dims
	if !dims[0].HasDimValue || dims[0].DimValue != 0 {
		t.Errorf("Static zero dim lost: %+v", dims[0])
	}
}

// TestParseFile tests parsing from a file on disk.
func TestParseFile(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "test.onnx")

	if err := SerializeToFile(buildSimpleAddModel(), tmpFile); err != nil {
		t.Fatalf("SerializeToFile failed: %v", err)
	}

	model, err := ParseFile(tmpFile)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}

	if model.Graph == nil || len(model.Graph.Nodes) != 1 {
		t.Error("Parsed file lost graph contents")
	}
}

// TestParseInvalidFile tests error handling for a non-existent file.
func TestParseInvalidFile(t *testing.T) {
	_, err := ParseFile("/nonexistent/file.onnx")
	if err == nil {
		t.Error("Expected error for non-existent file, got nil")
	}
}

// TestParseEmptyData tests that empty input yields an empty model.
func TestParseEmptyData(t *testing.T) {
	model, err := Parse([]byte{})
	if err != nil {
		t.Fatalf("Parse of empty data failed: %v", err)
	}
	if model.Graph != nil {
		t.Error("Expected nil graph for empty data")
	}
}

// TestSerializeToFilePermissions tests that serialization errors from the
// filesystem propagate.
func TestSerializeToFilePermissions(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root, cannot provoke permission errors")
	}
	err := SerializeToFile(buildSimpleAddModel(), "/nonexistent-dir/test.onnx")
	if err == nil {
		t.Error("Expected error writing to missing directory, got nil")
	}
}

// buildSimpleAddModel creates a minimal model: Z = X + Y.
func buildSimpleAddModel() *ModelProto {
	return &ModelProto{
		IRVersion:   7,
		OpsetImport: []OperatorSetID{{Domain: "", Version: 13}},
		Graph: &GraphProto{
			Name: "simple_add",
			Nodes: []NodeProto{
				{OpType: "Add", Inputs: []string{"X", "Y"}, Outputs: []string{"Z"}},
			},
			Inputs: []ValueInfoProto{
				makeValueInfo("X", TensorProtoFloat, []DimensionProto{
					{DimParam: "batch"},
					{DimValue: 784, HasDimValue: true},
				}),
				makeValueInfo("Y", TensorProtoFloat, []DimensionProto{
					{DimParam: "batch"},
					{DimValue: 784, HasDimValue: true},
				}),
			},
			Outputs: []ValueInfoProto{
				makeValueInfo("Z", TensorProtoFloat, []DimensionProto{
					{DimParam: "batch"},
					{DimValue: 784, HasDimValue: true},
				}),
			},
		},
	}
}

// buildMatMulModel creates a model with MatMul and a weight initializer.
func buildMatMulModel() *ModelProto {
	return &ModelProto{
		IRVersion:   7,
		OpsetImport: []OperatorSetID{{Domain: "", Version: 13}},
		Graph: &GraphProto{
			Name: "matmul_graph",
			Nodes: []NodeProto{
				{OpType: "MatMul", Inputs: []string{"X", "W"}, Outputs: []string{"Y"}},
			},
			Initializers: []TensorProto{
				{Name: "W", DataType: TensorProtoFloat, Dims: []int64{4, 4}, RawData: make([]byte, 64)},
			},
			Inputs: []ValueInfoProto{
				makeValueInfo("X", TensorProtoFloat, []DimensionProto{
					{DimParam: "batch"},
					{DimValue: 4, HasDimValue: true},
				}),
			},
			Outputs: []ValueInfoProto{
				makeValueInfo("Y", TensorProtoFloat, []DimensionProto{
					{DimParam: "batch"},
					{DimValue: 4, HasDimValue: true},
				}),
			},
		},
	}
}

func makeValueInfo(name string, elemType int32, dims []DimensionProto) ValueInfoProto {
	return ValueInfoProto{
		Name: name,
		Type: &TypeProto{
			TensorType: &TensorTypeProto{
				ElemType: elemType,
				Shape:    &TensorShapeProto{Dims: dims},
			},
		},
	}
}
