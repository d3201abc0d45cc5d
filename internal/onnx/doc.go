// Package onnx reads and writes the ONNX model exchange format and converts
// between its protobuf form and the mutable graph representation in
// internal/ir.
//
// The wire codec is hand-written on protowire rather than generated: the
// format subset the engine needs is small, stable, and easier to audit field
// by field than a generated binding.
//
// Key components:
//   - ModelProto, GraphProto, NodeProto, TensorProto: mirror of the ONNX
//     protobuf schema, including nested subgraph attributes
//   - Parse / Serialize: wire codec in both directions
//   - ToGraph / FromGraph: conversion to and from ir.Graph; FromGraph emits
//     nodes in topological order so serialization is deterministic
//
// Unknown protobuf fields are skipped on read and never round-tripped.
package onnx
