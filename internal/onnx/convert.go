package onnx

import (
	"fmt"
	"sort"

	"github.com/mrshu/onnxruntime/internal/ir"
	"github.com/mrshu/onnxruntime/internal/tensor"
)

// DefaultIRVersion is stamped on models serialized from graphs that never
// carried an IR version of their own.
const DefaultIRVersion = 8

// ToGraph lowers a parsed model into the mutable graph representation and
// resolves it.
func ToGraph(m *ModelProto) (*ir.Graph, error) {
	if m.Graph == nil {
		return nil, fmt.Errorf("model has no graph")
	}
	g, err := graphFromProto(m.Graph)
	if err != nil {
		return nil, err
	}
	g.IRVersion = m.IRVersion
	g.ProducerName = m.ProducerName
	g.ProducerVersion = m.ProducerVersion
	if len(m.OpsetImport) > 0 {
		g.OpsetImports = make(map[string]int64, len(m.OpsetImport))
		for _, opset := range m.OpsetImport {
			g.OpsetImports[opset.Domain] = opset.Version
		}
	}
	if err := g.Resolve(); err != nil {
		return nil, err
	}
	return g, nil
}

// FromGraph raises a graph back into model form. Nodes are emitted in
// topological order, initializers in declaration order, and opset imports
// sorted by domain so serialization is deterministic.
func FromGraph(g *ir.Graph) (*ModelProto, error) {
	gp, err := graphToProto(g)
	if err != nil {
		return nil, err
	}
	m := &ModelProto{
		IRVersion:       g.IRVersion,
		ProducerName:    g.ProducerName,
		ProducerVersion: g.ProducerVersion,
		Graph:           gp,
	}
	if m.IRVersion == 0 {
		m.IRVersion = DefaultIRVersion
	}
	domains := make([]string, 0, len(g.OpsetImports))
	for domain := range g.OpsetImports {
		domains = append(domains, domain)
	}
	sort.Strings(domains)
	for _, domain := range domains {
		m.OpsetImport = append(m.OpsetImport, OperatorSetID{Domain: domain, Version: g.OpsetImports[domain]})
	}
	return m, nil
}

func graphFromProto(gp *GraphProto) (*ir.Graph, error) {
	g := ir.NewGraph(gp.Name)
	g.Doc = gp.DocString

	for i := range gp.Initializers {
		tp := &gp.Initializers[i]
		t, err := tensorFromProto(tp)
		if err != nil {
			return nil, fmt.Errorf("initializer %q: %w", tp.Name, err)
		}
		g.AddInitializer(tp.Name, t)
	}

	for i := range gp.Inputs {
		v, err := valueFromInfo(g, &gp.Inputs[i])
		if err != nil {
			return nil, err
		}
		g.AddInput(v)
	}
	for i := range gp.ValueInfo {
		if _, err := valueFromInfo(g, &gp.ValueInfo[i]); err != nil {
			return nil, err
		}
	}
	for i := range gp.Outputs {
		v, err := valueFromInfo(g, &gp.Outputs[i])
		if err != nil {
			return nil, err
		}
		g.AddOutput(v)
	}

	for i := range gp.Nodes {
		np := &gp.Nodes[i]
		inputs := make([]*ir.Value, len(np.Inputs))
		for j, name := range np.Inputs {
			if name == "" {
				continue // optional input left unconnected
			}
			inputs[j] = g.GetOrCreateValue(name)
		}
		outputs := make([]*ir.Value, len(np.Outputs))
		for j, name := range np.Outputs {
			if name == "" {
				continue
			}
			outputs[j] = g.GetOrCreateValue(name)
		}
		attrs := make([]*ir.Attribute, 0, len(np.Attributes))
		for k := range np.Attributes {
			a, err := attributeFromProto(&np.Attributes[k])
			if err != nil {
				return nil, fmt.Errorf("node %q attribute %q: %w", np.Name, np.Attributes[k].Name, err)
			}
			attrs = append(attrs, a)
		}
		g.AddNode(np.Name, np.OpType, np.DocString, inputs, outputs, attrs, np.Domain)
	}
	return g, nil
}

func graphToProto(g *ir.Graph) (*GraphProto, error) {
	gp := &GraphProto{Name: g.Name, DocString: g.Doc}

	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	for _, name := range g.InitializerNames() {
		t, _ := g.Initializer(name)
		gp.Initializers = append(gp.Initializers, tensorToProto(name, t))
	}
	for _, v := range g.Inputs() {
		gp.Inputs = append(gp.Inputs, valueToInfo(v))
	}
	for _, v := range g.Outputs() {
		gp.Outputs = append(gp.Outputs, valueToInfo(v))
	}

	for _, idx := range order {
		n := g.NodeAt(idx)
		np, err := nodeToProto(n)
		if err != nil {
			return nil, err
		}
		gp.Nodes = append(gp.Nodes, *np)

		for _, out := range n.Outputs {
			if out == nil || out.Name == "" {
				continue
			}
			if g.IsGraphInput(out.Name) || g.IsGraphOutput(out.Name) {
				continue
			}
			if out.Type == tensor.Undefined && out.Shape == nil {
				continue
			}
			gp.ValueInfo = append(gp.ValueInfo, valueToInfo(out))
		}
	}
	return gp, nil
}

func nodeToProto(n *ir.Node) (*NodeProto, error) {
	np := &NodeProto{
		Name:      n.Name,
		OpType:    n.OpType,
		Domain:    n.Domain,
		DocString: n.Doc,
		Inputs:    n.InputNames(),
		Outputs:   n.OutputNames(),
	}
	for _, a := range n.Attrs() {
		ap, err := attributeToProto(a)
		if err != nil {
			return nil, fmt.Errorf("node %q attribute %q: %w", n.Name, a.Name, err)
		}
		np.Attributes = append(np.Attributes, *ap)
	}
	return np, nil
}

func valueFromInfo(g *ir.Graph, vi *ValueInfoProto) (*ir.Value, error) {
	if vi.Name == "" {
		return nil, fmt.Errorf("value info entry has no name")
	}
	v := g.GetOrCreateValue(vi.Name)
	if vi.Type == nil || vi.Type.TensorType == nil {
		return v, nil
	}
	tt := vi.Type.TensorType
	if tt.ElemType != 0 {
		dt, ok := tensor.FromONNXCode(tt.ElemType)
		if !ok {
			return nil, fmt.Errorf("value %q: unsupported element type %d", vi.Name, tt.ElemType)
		}
		v.Type = dt
	}
	if tt.Shape != nil {
		v.Shape = shapeFromProto(tt.Shape)
	}
	return v, nil
}

func valueToInfo(v *ir.Value) ValueInfoProto {
	tt := &TensorTypeProto{}
	if v.Type != tensor.Undefined {
		tt.ElemType = v.Type.ONNXCode()
	}
	if v.Shape != nil {
		sp := &TensorShapeProto{Dims: make([]DimensionProto, len(v.Shape))}
		for i, d := range v.Shape {
			switch {
			case d.Known():
				sp.Dims[i] = DimensionProto{DimValue: d.Value, HasDimValue: true}
			case d.Param != "":
				sp.Dims[i] = DimensionProto{DimParam: d.Param}
			}
		}
		tt.Shape = sp
	}
	return ValueInfoProto{Name: v.Name, Type: &TypeProto{TensorType: tt}}
}

func shapeFromProto(sp *TensorShapeProto) ir.Shape {
	shape := make(ir.Shape, len(sp.Dims))
	for i, d := range sp.Dims {
		switch {
		case d.HasDimValue && d.DimValue >= 0:
			shape[i] = ir.DimOf(d.DimValue)
		case d.DimParam != "":
			shape[i] = ir.DimNamed(d.DimParam)
		default:
			shape[i] = ir.DimUnknown()
		}
	}
	return shape
}

func attributeFromProto(ap *AttributeProto) (*ir.Attribute, error) {
	switch attrProtoKind(ap) {
	case AttributeProtoFloat:
		return ir.FloatAttr(ap.Name, ap.F), nil
	case AttributeProtoInt:
		return ir.IntAttr(ap.Name, ap.I), nil
	case AttributeProtoString:
		return ir.StringAttr(ap.Name, string(ap.S)), nil
	case AttributeProtoTensor:
		if ap.T == nil {
			return nil, fmt.Errorf("tensor attribute has no payload")
		}
		t, err := tensorFromProto(ap.T)
		if err != nil {
			return nil, err
		}
		return ir.TensorAttr(ap.Name, t), nil
	case AttributeProtoGraph:
		if ap.G == nil {
			return nil, fmt.Errorf("graph attribute has no payload")
		}
		sub, err := graphFromProto(ap.G)
		if err != nil {
			return nil, err
		}
		return ir.GraphAttr(ap.Name, sub), nil
	case AttributeProtoFloats:
		return ir.FloatsAttr(ap.Name, ap.Floats...), nil
	case AttributeProtoInts:
		return ir.IntsAttr(ap.Name, ap.Ints...), nil
	case AttributeProtoStrings:
		ss := make([]string, len(ap.Strings))
		for i, s := range ap.Strings {
			ss[i] = string(s)
		}
		return ir.StringsAttr(ap.Name, ss...), nil
	default:
		return nil, fmt.Errorf("unsupported attribute type %d", ap.Type)
	}
}

// attrProtoKind returns the attribute's declared type, falling back to
// inference from the populated field for exporters that leave type unset.
func attrProtoKind(ap *AttributeProto) int32 {
	if ap.Type != AttributeProtoUndefined {
		return ap.Type
	}
	switch {
	case ap.T != nil:
		return AttributeProtoTensor
	case ap.G != nil:
		return AttributeProtoGraph
	case len(ap.Floats) > 0:
		return AttributeProtoFloats
	case len(ap.Ints) > 0:
		return AttributeProtoInts
	case len(ap.Strings) > 0:
		return AttributeProtoStrings
	case len(ap.S) > 0:
		return AttributeProtoString
	case ap.F != 0:
		return AttributeProtoFloat
	default:
		return AttributeProtoInt
	}
}

func attributeToProto(a *ir.Attribute) (*AttributeProto, error) {
	ap := &AttributeProto{Name: a.Name}
	switch a.Kind {
	case ir.AttrFloat:
		ap.Type = AttributeProtoFloat
		ap.F = a.F
	case ir.AttrInt:
		ap.Type = AttributeProtoInt
		ap.I = a.I
	case ir.AttrString:
		ap.Type = AttributeProtoString
		ap.S = []byte(a.S)
	case ir.AttrTensor:
		ap.Type = AttributeProtoTensor
		tp := tensorToProto(a.Name, a.T)
		ap.T = &tp
	case ir.AttrGraph:
		ap.Type = AttributeProtoGraph
		sub, err := graphToProto(a.G)
		if err != nil {
			return nil, err
		}
		ap.G = sub
	case ir.AttrFloats:
		ap.Type = AttributeProtoFloats
		ap.Floats = append([]float32(nil), a.Floats...)
	case ir.AttrInts:
		ap.Type = AttributeProtoInts
		ap.Ints = append([]int64(nil), a.Ints...)
	case ir.AttrStrings:
		ap.Type = AttributeProtoStrings
		for _, s := range a.Strings {
			ap.Strings = append(ap.Strings, []byte(s))
		}
	default:
		return nil, fmt.Errorf("unsupported attribute kind %d", a.Kind)
	}
	return ap, nil
}

func tensorFromProto(tp *TensorProto) (*tensor.RawTensor, error) {
	dt, ok := tensor.FromONNXCode(tp.DataType)
	if !ok {
		return nil, fmt.Errorf("unsupported tensor data type %d", tp.DataType)
	}
	shape := make(tensor.Shape, len(tp.Dims))
	for i, d := range tp.Dims {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension %d", d)
		}
		shape[i] = int(d)
	}

	if len(tp.RawData) > 0 {
		return tensor.NewRawFromBytes(shape, dt, tp.RawData)
	}

	switch {
	case dt == tensor.Float32 && tp.FloatData != nil:
		return tensor.NewRawFromFloat32(shape, tp.FloatData)
	case dt == tensor.Float64 && tp.DoubleData != nil:
		return tensor.FromFloat64Values(shape, dt, tp.DoubleData)
	case dt == tensor.Int64 && tp.Int64Data != nil:
		return tensor.NewRawFromInt64(shape, tp.Int64Data)
	case tp.Int32Data != nil:
		return tensorFromInt32Data(shape, dt, tp.Int32Data)
	}

	if shape.NumElements() == 0 {
		return tensor.NewRaw(shape, dt)
	}
	return nil, fmt.Errorf("tensor %q carries no data", tp.Name)
}

// tensorFromInt32Data unpacks the int32_data field, which ONNX also uses to
// carry the bit patterns of sub-32-bit element types.
func tensorFromInt32Data(shape tensor.Shape, dt tensor.DataType, data []int32) (*tensor.RawTensor, error) {
	t, err := tensor.NewRaw(shape, dt)
	if err != nil {
		return nil, err
	}
	if len(data) != t.NumElements() {
		return nil, fmt.Errorf("got %d values for shape %v (want %d)", len(data), shape, t.NumElements())
	}
	switch dt {
	case tensor.Int32:
		copy(t.AsInt32(), data)
	case tensor.Float16, tensor.BFloat16, tensor.Uint16:
		dst := t.AsUint16()
		for i, v := range data {
			dst[i] = uint16(v) //nolint:gosec // G115: 16-bit patterns by contract
		}
	case tensor.Uint8:
		dst := t.AsUint8()
		for i, v := range data {
			dst[i] = uint8(v) //nolint:gosec // G115: 8-bit values by contract
		}
	case tensor.Bool:
		dst := t.AsBool()
		for i, v := range data {
			dst[i] = v != 0
		}
	default:
		return nil, fmt.Errorf("int32_data cannot carry dtype %s", dt)
	}
	return t, nil
}

func tensorToProto(name string, t *tensor.RawTensor) TensorProto {
	dims := make([]int64, len(t.Shape()))
	for i, d := range t.Shape() {
		dims[i] = int64(d)
	}
	return TensorProto{
		Name:     name,
		DataType: t.DType().ONNXCode(),
		Dims:     dims,
		RawData:  append([]byte(nil), t.Data()...),
	}
}
