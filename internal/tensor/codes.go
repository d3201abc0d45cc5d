package tensor

// Interchange type codes, as used by the ONNX TensorProto.DataType field and
// by Cast node attributes.
const (
	codeUndefined = 0
	codeFloat     = 1
	codeUint8     = 2
	codeInt8      = 3
	codeUint16    = 4
	codeInt16     = 5
	codeInt32     = 6
	codeInt64     = 7
	codeBool      = 9
	codeFloat16   = 10
	codeDouble    = 11
	codeUint32    = 12
	codeUint64    = 13
	codeBFloat16  = 16
)

// FromONNXCode maps an ONNX data-type code to a DataType.
func FromONNXCode(code int32) (DataType, bool) {
	switch code {
	case codeFloat:
		return Float32, true
	case codeDouble:
		return Float64, true
	case codeFloat16:
		return Float16, true
	case codeBFloat16:
		return BFloat16, true
	case codeInt8:
		return Int8, true
	case codeInt16:
		return Int16, true
	case codeInt32:
		return Int32, true
	case codeInt64:
		return Int64, true
	case codeUint8:
		return Uint8, true
	case codeUint16:
		return Uint16, true
	case codeUint32:
		return Uint32, true
	case codeUint64:
		return Uint64, true
	case codeBool:
		return Bool, true
	default:
		return Undefined, false
	}
}

// ONNXCode maps a DataType to its ONNX data-type code.
func (dt DataType) ONNXCode() int32 {
	switch dt {
	case Float32:
		return codeFloat
	case Float64:
		return codeDouble
	case Float16:
		return codeFloat16
	case BFloat16:
		return codeBFloat16
	case Int8:
		return codeInt8
	case Int16:
		return codeInt16
	case Int32:
		return codeInt32
	case Int64:
		return codeInt64
	case Uint8:
		return codeUint8
	case Uint16:
		return codeUint16
	case Uint32:
		return codeUint32
	case Uint64:
		return codeUint64
	case Bool:
		return codeBool
	default:
		return codeUndefined
	}
}
