// Package providers answers operator-placement queries: whether a given
// operator type, domain and opset version combination has a kernel on a
// given execution provider. Graph passes consult it before rewriting a node
// into an operator its assigned backend could not run.
package providers

import (
	"sort"
	"sync"
)

// Provider names.
const (
	CPU = "CPUExecutionProvider"
)

// MicrosoftDomain is the extension operator namespace carrying fused and
// training-only operators such as FusedMatMul and YieldOp.
const MicrosoftDomain = "com.microsoft"

// OpSchema declares one operator a provider can place. An operator is
// supported from SinceVersion of its domain's opset onward.
type OpSchema struct {
	OpType       string
	Domain       string
	SinceVersion int64
}

type opKey struct {
	opType string
	domain string
}

// Provider is a named set of operator schemas.
type Provider struct {
	name    string
	schemas map[opKey]OpSchema
}

// NewProvider creates a provider supporting the given schemas.
func NewProvider(name string, schemas ...OpSchema) *Provider {
	p := &Provider{name: name, schemas: make(map[opKey]OpSchema, len(schemas))}
	for _, s := range schemas {
		p.schemas[opKey{s.OpType, s.Domain}] = s
	}
	return p
}

// Name returns the provider's registry name.
func (p *Provider) Name() string { return p.name }

// Supports reports whether the provider can place the operator at the given
// opset version.
func (p *Provider) Supports(opType, domain string, version int64) bool {
	s, ok := p.schemas[opKey{opType, domain}]
	if !ok {
		return false
	}
	return version >= s.SinceVersion
}

// Add registers one more schema on the provider.
func (p *Provider) Add(s OpSchema) {
	p.schemas[opKey{s.OpType, s.Domain}] = s
}

// Registry maps provider names to providers. Safe for concurrent reads and
// registration.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]*Provider)}
}

// Register adds or replaces a provider.
func (r *Registry) Register(p *Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the named provider.
func (r *Registry) Get(name string) (*Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supports reports whether the named provider can place the operator. An
// empty provider name means "not yet assigned" and is answered as if the
// node were assigned to CPU, the always-available fallback.
func (r *Registry) Supports(provider, opType, domain string, version int64) bool {
	if provider == "" {
		provider = CPU
	}
	p, ok := r.Get(provider)
	if !ok {
		return false
	}
	return p.Supports(opType, domain, version)
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry with the CPU provider
// pre-registered.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		defaultRegistry.Register(newCPUProvider())
	})
	return defaultRegistry
}

func newCPUProvider() *Provider {
	standard := []string{
		"Add", "Sub", "Mul", "Div", "Pow", "Sum", "Neg",
		"MatMul", "Gemm", "Transpose", "Cast", "Reshape", "Shape",
		"Identity", "Relu", "Sigmoid", "Tanh", "Exp", "Log", "Sqrt",
		"Softmax", "LogSoftmax", "LayerNormalization", "ReduceSum",
		"ReduceMean", "Constant", "Dropout", "If",
	}
	extension := []string{
		"FusedMatMul", "YieldOp",
		"ReluGrad", "SigmoidGrad", "TanhGrad", "SoftmaxGrad", "LogSoftmaxGrad",
		"LayerNormalizationGrad", "InvertibleLayerNormalizationGrad",
	}
	p := NewProvider(CPU)
	for _, op := range standard {
		p.Add(OpSchema{OpType: op, Domain: "", SinceVersion: 1})
	}
	for _, op := range extension {
		p.Add(OpSchema{OpType: op, Domain: MicrosoftDomain, SinceVersion: 1})
	}
	return p
}
