package backbone

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/chaste10ve/person-search/tensor"
)

// family captures the per-architecture interface details the network has to
// branch on: the descriptor width and whether the pooled feature is
// flattened before the tail.
type family struct {
	featureDim int
	flatten    bool
}

// The registered families mirror the architectures the original training
// setup supports. The descriptor widths are the fc7 widths of the
// respective torchvision models.
var onnxFamilies = map[string]family{
	"vgg16":    {featureDim: 4096, flatten: true},
	"res34":    {featureDim: 512},
	"res50":    {featureDim: 2048},
	"dense121": {featureDim: 1024},
	"dense161": {featureDim: 2208},
}

func init() {
	for name, fam := range onnxFamilies {
		fam := fam
		Register(name, func(cfg Config) (Backbone, error) {
			return newONNXBackbone(fam, cfg)
		})
	}
}

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// InitRuntime initializes the shared ONNX runtime environment. It must be
// called once before constructing any ONNX-backed backbone. libraryPath may
// be empty if onnxruntime is on the default search path.
func InitRuntime(libraryPath string) error {
	runtimeOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		runtimeErr = ort.InitializeEnvironment()
	})
	return runtimeErr
}

type onnxBackbone struct {
	fam  family
	head *ort.DynamicAdvancedSession
	tail *ort.DynamicAdvancedSession
}

func newONNXBackbone(fam family, cfg Config) (Backbone, error) {
	if !ort.IsInitialized() {
		return nil, errors.New("onnx runtime not initialized, call backbone.InitRuntime first")
	}
	if cfg.HeadModel == "" || cfg.TailModel == "" {
		return nil, errors.New("onnx backbone requires HeadModel and TailModel paths")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()
	if err := options.SetIntraOpNumThreads(runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("set intra-op threads: %w", err)
	}

	head, err := ort.NewDynamicAdvancedSession(cfg.HeadModel,
		[]string{"image"}, []string{"features"}, options)
	if err != nil {
		return nil, fmt.Errorf("load head model %s: %w", cfg.HeadModel, err)
	}
	tail, err := ort.NewDynamicAdvancedSession(cfg.TailModel,
		[]string{"pooled"}, []string{"descriptor"}, options)
	if err != nil {
		_ = head.Destroy()
		return nil, fmt.Errorf("load tail model %s: %w", cfg.TailModel, err)
	}
	return &onnxBackbone{fam: fam, head: head, tail: tail}, nil
}

func (b *onnxBackbone) FeatureDim() int     { return b.fam.featureDim }
func (b *onnxBackbone) FlattenPooled() bool { return b.fam.flatten }

func (b *onnxBackbone) Head(ctx context.Context, image *tensor.Dense) (*tensor.Dense, error) {
	if image.Rank() != 3 {
		return nil, fmt.Errorf("head expects a CHW image, got shape %v", image.Shape())
	}
	// The model consumes a single-image NCHW batch.
	shape := []int{1, image.Dim(0), image.Dim(1), image.Dim(2)}
	out, err := b.run(ctx, b.head, image.Data(), shape)
	if err != nil {
		return nil, fmt.Errorf("backbone head: %w", err)
	}
	return out, nil
}

func (b *onnxBackbone) Tail(ctx context.Context, pooled *tensor.Dense) (*tensor.Dense, error) {
	out, err := b.run(ctx, b.tail, pooled.Data(), pooled.Shape())
	if err != nil {
		return nil, fmt.Errorf("backbone tail: %w", err)
	}
	return out, nil
}

func (b *onnxBackbone) run(ctx context.Context, sess *ort.DynamicAdvancedSession, data []float32, shape []int) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dims := make([]int64, len(shape))
	for i, d := range shape {
		dims[i] = int64(d)
	}
	in, err := ort.NewTensor(ort.NewShape(dims...), data)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer in.Destroy()

	outputs := []ort.Value{nil}
	if err := sess.Run([]ort.Value{in}, outputs); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}
	outValue, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output value type %T", outputs[0])
	}
	defer outValue.Destroy()

	outShape := outValue.GetShape()
	outDims := make([]int, len(outShape))
	for i, d := range outShape {
		outDims[i] = int(d)
	}
	// Copy out of the runtime-owned buffer before Destroy.
	outData := append([]float32(nil), outValue.GetData()...)
	return tensor.FromSlice(outData, outDims...)
}

func (b *onnxBackbone) Close() error {
	var err error
	if b.head != nil {
		err = errors.Join(err, b.head.Destroy())
		b.head = nil
	}
	if b.tail != nil {
		err = errors.Join(err, b.tail.Destroy())
		b.tail = nil
	}
	return err
}
