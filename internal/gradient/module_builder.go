package gradient

import (
	"fmt"
	"log/slog"

	"github.com/mrshu/onnxruntime/internal/ir"
	"github.com/mrshu/onnxruntime/internal/providers"
	"github.com/mrshu/onnxruntime/internal/transform"
)

// Config selects what a training graph differentiates and how.
type Config struct {
	// TrainableNames lists initializers to promote to graph inputs and
	// differentiate. At least one is required.
	TrainableNames []string
	// InputNamesRequireGrad lists user inputs whose gradients the caller
	// wants exposed as graph outputs.
	InputNamesRequireGrad []string
	// UseInvertibleLayerNormGrad selects the layer-normalization gradient
	// kernel that reconstructs its input from the forward output.
	UseInvertibleLayerNormGrad bool
	// Registry gates optimizing rewrites to supported operators. Nil means
	// the process-wide default registry.
	Registry *providers.Registry
	// Logger receives pass and construction diagnostics. Nil disables them.
	Logger *slog.Logger
}

// TrainingGraphInfo describes the boundary contract of a built gradient
// graph: name lists in their final order plus the gradient-name mappings
// the runtime uses to feed and fetch tensors.
type TrainingGraphInfo struct {
	// UserInputNames are the forward inputs in graph order, excluding
	// promoted trainable initializers.
	UserInputNames []string
	// UserOutputNames are the forward outputs, which the YieldOp carries
	// out of the gradient graph.
	UserOutputNames []string
	// InitializerNamesToTrain repeats the trainable names in declaration
	// order.
	InitializerNamesToTrain []string
	// UserInputGradNames maps each input from InputNamesRequireGrad to its
	// gradient output name.
	UserInputGradNames map[string]string
	// InitializerGradNames lists the trainable gradients in declaration
	// order, matching the tail of the graph's output list.
	InitializerGradNames []string
	// OutputGradIndicesRequireFullShape lists the user-output indices whose
	// gradient seed also feeds internal graph structure and therefore must
	// be materialized full-shape rather than as a broadcastable scalar.
	OutputGradIndicesRequireFullShape []int64
}

// Builder turns a forward model into a gradient training graph. The source
// graph is cloned at construction and again on every Build call, so one
// Builder can produce differently shape-specialized gradient graphs from
// the same model.
type Builder struct {
	cfg    Config
	reg    *providers.Registry
	logger *slog.Logger

	// model is the forward graph with trainable initializers promoted to
	// inputs; grad is the result of the most recent Build.
	model *ir.Graph
	grad  *ir.Graph
	info  TrainingGraphInfo
}

// NewBuilder validates the configuration against the forward graph and
// promotes the trainable initializers to graph inputs on a private clone.
// The caller's graph is never mutated.
func NewBuilder(g *ir.Graph, cfg Config) (*Builder, error) {
	if g == nil {
		return nil, fmt.Errorf("gradient builder requires a graph")
	}
	if len(cfg.TrainableNames) == 0 {
		return nil, fmt.Errorf("gradient builder requires at least one trainable initializer")
	}
	b := &Builder{
		cfg:    cfg,
		reg:    cfg.Registry,
		logger: cfg.Logger,
		model:  g.Clone(),
	}
	if b.reg == nil {
		b.reg = providers.Default()
	}

	trainable := make(map[string]bool, len(cfg.TrainableNames))
	for _, name := range cfg.TrainableNames {
		if !b.model.IsInitializer(name) {
			return nil, fmt.Errorf("trainable %q is not an initializer in the graph", name)
		}
		trainable[name] = true
	}

	var userInputs []*ir.Value
	for _, in := range b.model.Inputs() {
		if trainable[in.Name] {
			continue
		}
		userInputs = append(userInputs, in)
		b.info.UserInputNames = append(b.info.UserInputNames, in.Name)
	}
	for _, out := range b.model.Outputs() {
		b.info.UserOutputNames = append(b.info.UserOutputNames, out.Name)
	}
	b.info.InitializerNamesToTrain = append([]string(nil), cfg.TrainableNames...)

	// Promote: the initializer data leaves the graph and the value joins
	// the input list after the user inputs, in declaration order. The
	// value keeps the type and shape recorded from the initializer.
	inputs := append([]*ir.Value(nil), userInputs...)
	for _, name := range cfg.TrainableNames {
		v, ok := b.model.ValueRef(name)
		if !ok {
			return nil, fmt.Errorf("trainable %q has no value entry in the graph", name)
		}
		inputs = append(inputs, v)
		b.model.RemoveInitializer(name)
	}
	b.model.SetInputs(inputs)
	return b, nil
}

// Build constructs the gradient graph, optionally specializing the user
// inputs to concrete shapes first. Each call starts from a fresh clone of
// the promoted forward model.
func (b *Builder) Build(inputShapes [][]int64) error {
	g := b.model.Clone()

	if inputShapes != nil {
		if err := b.setConcreteInputShapes(g, inputShapes); err != nil {
			return err
		}
	}
	if err := g.Resolve(); err != nil {
		return fmt.Errorf("resolving forward graph: %w", err)
	}

	var mgrOpts []transform.Option
	if b.logger != nil {
		mgrOpts = append(mgrOpts, transform.WithLogger(b.logger))
	}
	mgr := transform.NewDefaultManager(b.reg, nil, mgrOpts...)
	if _, err := mgr.ApplyAll(g); err != nil {
		return fmt.Errorf("optimizing forward graph: %w", err)
	}

	x := make([]string, 0, len(b.cfg.InputNamesRequireGrad)+len(b.cfg.TrainableNames))
	seen := make(map[string]bool)
	for _, name := range b.cfg.InputNamesRequireGrad {
		if !seen[name] {
			seen[name] = true
			x = append(x, name)
		}
	}
	for _, name := range b.cfg.TrainableNames {
		if !seen[name] {
			seen[name] = true
			x = append(x, name)
		}
	}

	ggb := NewGradientGraphBuilder(g, b.info.UserOutputNames, x,
		Options{UseInvertibleLayerNormGrad: b.cfg.UseInvertibleLayerNormGrad}, b.logger)
	grads, err := ggb.Build()
	if err != nil {
		return fmt.Errorf("building gradient graph: %w", err)
	}

	b.handleOutputsAndGrads(g)
	if err := b.reorderOutputs(g, grads); err != nil {
		return err
	}
	if err := g.Resolve(); err != nil {
		return fmt.Errorf("resolving gradient graph: %w", err)
	}
	b.grad = g
	if b.logger != nil {
		b.logger.Debug("gradient graph built",
			"nodes", g.NumNodes(),
			"outputs", len(g.Outputs()),
			"full_shape_seeds", len(b.info.OutputGradIndicesRequireFullShape))
	}
	return nil
}

// setConcreteInputShapes overwrites each user input's shape with the
// supplied dimensions, leaving the promoted trainable inputs untouched.
func (b *Builder) setConcreteInputShapes(g *ir.Graph, shapes [][]int64) error {
	if len(shapes) != len(b.info.UserInputNames) {
		return fmt.Errorf("concrete input shape count %d does not match user input count %d",
			len(shapes), len(b.info.UserInputNames))
	}
	for i, name := range b.info.UserInputNames {
		v, ok := g.ValueRef(name)
		if !ok {
			return fmt.Errorf("user input %q missing from graph", name)
		}
		v.Shape = ir.ShapeOf(shapes[i]...)
	}
	return nil
}

// handleOutputsAndGrads reconciles output-gradient seeds with internally
// computed adjoints and terminates the graph with a YieldOp. A user output
// that feeds back into the graph already has an internal producer for its
// gradient name; its external seed arrives under a placeholder name and an
// Add combines the two, with the adjoint consumers rewired to the combined
// value. Each such output index lands in the YieldOp's full_shape_outputs
// attribute since its seed must be materialized at the output's full shape.
func (b *Builder) handleOutputsAndGrads(g *ir.Graph) {
	var fullShape []int64
	yieldInputs := make([]*ir.Value, 0, len(b.info.UserOutputNames))
	yieldOutputs := make([]*ir.Value, 0, len(b.info.UserOutputNames))

	for i, name := range b.info.UserOutputNames {
		yv, ok := g.ValueRef(name)
		if !ok {
			continue
		}
		gradName := GradientName(name)
		seed, ok := g.ValueRef(gradName)
		if !ok {
			seed = g.NewValue(gradName, yv.Type, yv.Shape.Clone())
		}
		if _, produced := g.Producer(gradName); produced {
			fullShape = append(fullShape, int64(i))
			external := g.NewValue(ExternalOutputName(gradName), yv.Type, yv.Shape.Clone())
			combined := g.NewValue(gradName+"_add_output", yv.Type, yv.Shape.Clone())
			add := g.AddNode(g.GenerateNodeName(gradName+"_add"), "Add", "",
				[]*ir.Value{external, seed}, []*ir.Value{combined}, nil, "")
			g.RewireConsumers(seed, combined, add)
			seed = external
		}
		yieldInputs = append(yieldInputs, yv)
		yieldOutputs = append(yieldOutputs, seed)
	}

	if _, ok := g.OpsetImports[providers.MicrosoftDomain]; !ok {
		g.OpsetImports[providers.MicrosoftDomain] = 1
	}
	g.AddNode("YieldOp", "YieldOp", "Yield Op", yieldInputs, yieldOutputs,
		[]*ir.Attribute{ir.IntsAttr("full_shape_outputs", fullShape...)},
		providers.MicrosoftDomain)
	b.info.OutputGradIndicesRequireFullShape = fullShape
}

// reorderOutputs pins the gradient graph's output list into the training
// contract order: requested user-input gradients first, in user-input
// order, then trainable-initializer gradients in declaration order. A
// requested gradient missing from the backward graph means the forward
// graph has no differentiable path from that value to any output.
func (b *Builder) reorderOutputs(g *ir.Graph, grads map[string]string) error {
	required := make(map[string]bool, len(b.cfg.InputNamesRequireGrad))
	for _, name := range b.cfg.InputNamesRequireGrad {
		required[name] = true
	}

	var outputs []*ir.Value
	b.info.UserInputGradNames = make(map[string]string)
	for _, name := range b.info.UserInputNames {
		if !required[name] {
			continue
		}
		gradName, ok := grads[name]
		if !ok {
			return fmt.Errorf("gradient for user input %q not found on gradient graph", name)
		}
		v, ok := g.ValueRef(gradName)
		if !ok {
			return fmt.Errorf("gradient for user input %q not found on gradient graph", name)
		}
		outputs = append(outputs, v)
		b.info.UserInputGradNames[name] = gradName
	}

	b.info.InitializerGradNames = b.info.InitializerGradNames[:0]
	for _, name := range b.cfg.TrainableNames {
		gradName, ok := grads[name]
		if !ok {
			return fmt.Errorf("gradient for trainable initializer %q not found on gradient graph", name)
		}
		v, ok := g.ValueRef(gradName)
		if !ok {
			return fmt.Errorf("gradient for trainable initializer %q not found on gradient graph", name)
		}
		outputs = append(outputs, v)
		b.info.InitializerGradNames = append(b.info.InitializerGradNames, gradName)
	}

	g.SetOutputs(outputs)
	return nil
}

// GradientGraph returns the graph built by the most recent Build call, or
// nil before the first.
func (b *Builder) GradientGraph() *ir.Graph { return b.grad }

// ForwardModel returns the promoted forward model the gradient graphs are
// cloned from.
func (b *Builder) ForwardModel() *ir.Graph { return b.model }

// Info returns the boundary contract of the most recent Build.
func (b *Builder) Info() TrainingGraphInfo { return b.info }
