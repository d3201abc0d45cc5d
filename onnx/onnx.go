// Package onnx moves models across the serialization boundary: protobuf
// bytes in, rewritable graph out, and back.
//
// Loading resolves the graph, so a successfully loaded model is already
// validated and shape-annotated. Saving emits nodes in topological order
// with deterministic field ordering, so saving the same graph twice yields
// identical bytes.
//
// # Example Usage
//
//	g, err := onnx.LoadFile("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := transform.Optimize(g, transform.Level2); err != nil {
//	    log.Fatal(err)
//	}
//	if err := onnx.SaveFile(g, "model.opt.onnx"); err != nil {
//	    log.Fatal(err)
//	}
package onnx

import (
	"github.com/mrshu/onnxruntime/graph"
	"github.com/mrshu/onnxruntime/internal/onnx"
)

// Load decodes a serialized ONNX model into a resolved graph.
func Load(data []byte) (*graph.Graph, error) {
	m, err := onnx.Parse(data)
	if err != nil {
		return nil, err
	}
	return onnx.ToGraph(m)
}

// LoadFile reads and decodes an ONNX model file.
func LoadFile(path string) (*graph.Graph, error) {
	m, err := onnx.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return onnx.ToGraph(m)
}

// Save encodes a graph as serialized ONNX model bytes.
func Save(g *graph.Graph) ([]byte, error) {
	m, err := onnx.FromGraph(g)
	if err != nil {
		return nil, err
	}
	return onnx.Serialize(m), nil
}

// SaveFile encodes a graph and writes it to path.
func SaveFile(g *graph.Graph, path string) error {
	m, err := onnx.FromGraph(g)
	if err != nil {
		return err
	}
	return onnx.SerializeToFile(m, path)
}
