package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mrshu/onnxruntime/graph"
	"github.com/mrshu/onnxruntime/internal/evaluator"
	"github.com/mrshu/onnxruntime/onnx"
	"github.com/mrshu/onnxruntime/tensor"
	"github.com/mrshu/onnxruntime/training"
	"github.com/mrshu/onnxruntime/transform"
)

const version = "v0.1.0-dev"

// NewCLI builds the root command with all subcommands attached.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	var verbose bool
	rootCmd := &cobra.Command{
		Use:          "onnxgraph",
		Short:        "ONNX graph rewriting toolbox",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newInspectCmd(),
		newOptimizeCmd(),
		newGradCmd(),
		newRunCmd(),
	)
	return rootCmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect MODEL",
		Short: "Summarize a model's graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := onnx.LoadFile(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("graph:        %s\n", g.Name)
			fmt.Printf("ir version:   %d\n", g.IRVersion)
			domains := make([]string, 0, len(g.OpsetImports))
			for domain := range g.OpsetImports {
				domains = append(domains, domain)
			}
			sort.Strings(domains)
			for _, domain := range domains {
				name := domain
				if name == "" {
					name = "ai.onnx"
				}
				fmt.Printf("opset:        %s v%d\n", name, g.OpsetImports[domain])
			}
			fmt.Printf("nodes:        %d\n", g.NumNodes())

			ops := map[string]int{}
			for _, n := range g.Nodes() {
				ops[n.OpType]++
			}
			names := make([]string, 0, len(ops))
			for name := range ops {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("  %-24s %d\n", name, ops[name])
			}

			fmt.Printf("inputs:       %d\n", len(g.Inputs()))
			for _, v := range g.Inputs() {
				fmt.Printf("  %-24s %s %s\n", v.Name, v.Type, v.Shape)
			}
			fmt.Printf("outputs:      %d\n", len(g.Outputs()))
			for _, v := range g.Outputs() {
				fmt.Printf("  %-24s %s %s\n", v.Name, v.Type, v.Shape)
			}

			total := 0
			for _, name := range g.InitializerNames() {
				t, _ := g.Initializer(name)
				total += t.ByteSize()
			}
			fmt.Printf("initializers: %d (%d bytes)\n", len(g.InitializerNames()), total)
			return nil
		},
	}
}

func newOptimizeCmd() *cobra.Command {
	var level int
	var out string
	cmd := &cobra.Command{
		Use:   "optimize MODEL...",
		Short: "Run the rewrite pipeline over one or more models",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if level < int(transform.Level1) || level > int(transform.MaxLevel) {
				return fmt.Errorf("level must be between %d and %d", transform.Level1, transform.MaxLevel)
			}
			if out != "" && len(args) > 1 {
				return fmt.Errorf("--out only applies to a single model")
			}

			// Models are independent graphs, so they optimize concurrently.
			eg, ctx := errgroup.WithContext(cmd.Context())
			for _, path := range args {
				path := path
				eg.Go(func() error {
					if err := ctx.Err(); err != nil {
						return err
					}
					target := out
					if target == "" {
						target = strings.TrimSuffix(path, ".onnx") + ".opt.onnx"
					}
					return optimizeFile(path, target, transform.Level(level))
				})
			}
			return eg.Wait()
		},
	}
	cmd.Flags().IntVarP(&level, "level", "l", int(transform.MaxLevel), "Highest pass level to apply")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path (single model only)")
	return cmd
}

func optimizeFile(path, target string, level transform.Level) error {
	g, err := onnx.LoadFile(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	before := g.NumNodes()
	changed, err := transform.Optimize(g, level)
	if err != nil {
		return fmt.Errorf("optimize %s: %w", path, err)
	}
	slog.Info("optimized model", "path", path, "changed", changed,
		"nodes_before", before, "nodes_after", g.NumNodes(), "out", target)
	return onnx.SaveFile(g, target)
}

func newGradCmd() *cobra.Command {
	var (
		train      []string
		inputGrads []string
		shapes     []string
		invertible bool
		out        string
	)
	cmd := &cobra.Command{
		Use:   "grad MODEL",
		Short: "Build the gradient training graph for a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := onnx.LoadFile(args[0])
			if err != nil {
				return err
			}
			inputShapes, err := parseShapes(shapes)
			if err != nil {
				return err
			}

			builder, err := training.NewBuilder(g, training.Config{
				TrainableNames:             train,
				InputNamesRequireGrad:      inputGrads,
				UseInvertibleLayerNormGrad: invertible,
				Logger:                     slog.Default(),
			})
			if err != nil {
				return err
			}
			if err := builder.Build(inputShapes); err != nil {
				return err
			}

			info := builder.Info()
			slog.Info("built gradient graph",
				"nodes", builder.GradientGraph().NumNodes(),
				"trainable_grads", len(info.InitializerGradNames),
				"input_grads", len(info.UserInputGradNames))

			if out == "" {
				out = strings.TrimSuffix(args[0], ".onnx") + ".grad.onnx"
			}
			return onnx.SaveFile(builder.GradientGraph(), out)
		},
	}
	cmd.Flags().StringSliceVarP(&train, "train", "t", nil, "Trainable initializer names")
	cmd.Flags().StringSliceVar(&inputGrads, "input-grad", nil, "User inputs whose gradients to expose")
	cmd.Flags().StringSliceVarP(&shapes, "shape", "s", nil, "Concrete input shapes in input order, e.g. 32x128")
	cmd.Flags().BoolVar(&invertible, "invertible-layernorm", false, "Use the invertible layer-normalization gradient")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path")
	return cmd
}

// parseShapes turns ["2x3", "8"] into [][]int64{{2,3},{8}}. An empty list
// returns nil, which leaves input shapes untouched.
func parseShapes(specs []string) ([][]int64, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	shapes := make([][]int64, len(specs))
	for i, spec := range specs {
		for _, part := range strings.Split(spec, "x") {
			d, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad shape %q: %w", spec, err)
			}
			shapes[i] = append(shapes[i], d)
		}
	}
	return shapes, nil
}

func newRunCmd() *cobra.Command {
	var (
		fill string
		seed int64
		dims []string
	)
	cmd := &cobra.Command{
		Use:   "run MODEL",
		Short: "Evaluate a model on synthetic inputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := onnx.LoadFile(args[0])
			if err != nil {
				return err
			}
			overrides, err := parseDimOverrides(dims)
			if err != nil {
				return err
			}

			feeds, err := syntheticFeeds(g, fill, seed, overrides)
			if err != nil {
				return err
			}
			outs, err := evaluator.New(g, slog.Default()).Run(feeds)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(outs))
			for name := range outs {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				printTensor(name, outs[name])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fill, "fill", "random", "Input fill: random, ones or zeros")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random fill seed")
	cmd.Flags().StringSliceVar(&dims, "shape", nil, "Pin an input shape, e.g. x=32x128")
	return cmd
}

func parseDimOverrides(specs []string) (map[string][]int, error) {
	overrides := make(map[string][]int, len(specs))
	for _, spec := range specs {
		name, shape, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("bad shape %q: want name=2x3", spec)
		}
		for _, part := range strings.Split(shape, "x") {
			d, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("bad shape %q: %w", spec, err)
			}
			overrides[name] = append(overrides[name], d)
		}
	}
	return overrides, nil
}

// syntheticFeeds fills every graph input that is not an initializer.
// Symbolic dimensions default to 1 unless pinned with an override.
func syntheticFeeds(g *graph.Graph, fill string, seed int64, overrides map[string][]int) (map[string]*tensor.RawTensor, error) {
	r := rand.New(rand.NewSource(seed))
	feeds := make(map[string]*tensor.RawTensor, len(g.Inputs()))
	for _, in := range g.Inputs() {
		if g.IsInitializer(in.Name) {
			continue
		}
		shape, ok := overrides[in.Name]
		if !ok {
			for _, d := range in.Shape {
				if d.Known() {
					shape = append(shape, int(d.Value))
				} else {
					slog.Warn("defaulting symbolic dimension to 1", "input", in.Name, "dim", d.Param)
					shape = append(shape, 1)
				}
			}
		}

		n := tensor.Shape(shape).NumElements()
		values := make([]float64, n)
		switch fill {
		case "zeros":
		case "ones":
			for i := range values {
				values[i] = 1
			}
		case "random":
			for i := range values {
				values[i] = r.Float64()*2 - 1
			}
		default:
			return nil, fmt.Errorf("unknown fill %q", fill)
		}

		dtype := in.Type
		if dtype == tensor.Undefined {
			dtype = tensor.Float32
		}
		raw, err := tensor.FromFloat64Values(shape, dtype, values)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", in.Name, err)
		}
		feeds[in.Name] = raw
	}
	return feeds, nil
}

func printTensor(name string, t *tensor.RawTensor) {
	fmt.Printf("%s: %s %v\n", name, t.DType(), t.Shape())
	values, err := t.Float64Values()
	if err != nil {
		fmt.Printf("  <%v>\n", err)
		return
	}
	limit := min(len(values), 8)
	var mean float64
	for _, v := range values {
		mean += v
	}
	if len(values) > 0 {
		mean /= float64(len(values))
	}
	fmt.Printf("  first %d: %v\n", limit, values[:limit])
	fmt.Printf("  mean: %g\n", mean)
}
