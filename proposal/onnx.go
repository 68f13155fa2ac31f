package proposal

import (
	"context"
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/chaste10ve/person-search/loss"
	"github.com/chaste10ve/person-search/oim"
	"github.com/chaste10ve/person-search/tensor"
)

// ONNXConfig locates the exported proposal graphs, one per call mode. A
// mode whose path is empty is unavailable; calling it returns an error.
type ONNXConfig struct {
	TrainModel   string
	GalleryModel string
	PoolModel    string
}

// ONNXProposer runs exported proposal graphs through the ONNX runtime.
type ONNXProposer struct {
	train   *ort.DynamicAdvancedSession
	gallery *ort.DynamicAdvancedSession
	pool    *ort.DynamicAdvancedSession
}

var trainOutputNames = []string{
	"pooled", "aux",
	"rpn_cls_loss", "rpn_box_loss",
	"det_labels", "pid_labels",
	"bbox_targets", "bbox_inside_weights", "bbox_outside_weights",
}

// NewONNX constructs an ONNXProposer. The ONNX runtime environment must
// already be initialized (backbone.InitRuntime).
func NewONNX(cfg ONNXConfig) (*ONNXProposer, error) {
	if !ort.IsInitialized() {
		return nil, errors.New("onnx runtime not initialized")
	}
	if cfg.TrainModel == "" && cfg.GalleryModel == "" && cfg.PoolModel == "" {
		return nil, errors.New("onnx proposer requires at least one model path")
	}

	p := &ONNXProposer{}
	load := func(path string, inputs, outputs []string) (*ort.DynamicAdvancedSession, error) {
		if path == "" {
			return nil, nil
		}
		sess, err := ort.NewDynamicAdvancedSession(path, inputs, outputs, nil)
		if err != nil {
			return nil, fmt.Errorf("load proposal model %s: %w", path, err)
		}
		return sess, nil
	}

	var err error
	if p.train, err = load(cfg.TrainModel,
		[]string{"features", "gt_boxes", "im_info"}, trainOutputNames); err != nil {
		return nil, err
	}
	if p.gallery, err = load(cfg.GalleryModel,
		[]string{"features", "boxes", "im_info"}, []string{"rois", "pooled", "aux"}); err != nil {
		_ = p.Close()
		return nil, err
	}
	if p.pool, err = load(cfg.PoolModel,
		[]string{"features", "boxes", "im_info"}, []string{"pooled"}); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// ProposeTrain implements Proposer.
func (p *ONNXProposer) ProposeTrain(ctx context.Context, conv *tensor.Dense, gtBoxes [][]float32, info ImageInfo) (*TrainProposal, error) {
	if p.train == nil {
		return nil, errors.New("no training proposal model configured")
	}
	outputs, err := p.run(ctx, p.train, conv, gtBoxes, info, len(trainOutputNames))
	if err != nil {
		return nil, err
	}
	defer destroyAll(outputs)

	pooled, err := toDense(outputs[0])
	if err != nil {
		return nil, err
	}
	aux, err := toDense(outputs[1])
	if err != nil {
		return nil, err
	}
	detLabels, err := toIntSlice(outputs[4])
	if err != nil {
		return nil, err
	}
	pidRaw, err := toDense(outputs[5])
	if err != nil {
		return nil, err
	}
	pidLabels := make([]oim.Label, pidRaw.Len())
	for i, v := range pidRaw.Data() {
		pidLabels[i] = oim.Label(int32(v))
	}
	targets, err := toRows(outputs[6])
	if err != nil {
		return nil, err
	}
	inside, err := toRows(outputs[7])
	if err != nil {
		return nil, err
	}
	outside, err := toRows(outputs[8])
	if err != nil {
		return nil, err
	}

	return &TrainProposal{
		Pooled:          pooled,
		Aux:             aux,
		RPNClassLoss:    scalarOf(outputs[2]),
		RPNBoxLoss:      scalarOf(outputs[3]),
		DetectionLabels: detLabels,
		IdentityLabels:  pidLabels,
		BoxTargets: loss.BoxTargets{
			Targets:        targets,
			InsideWeights:  inside,
			OutsideWeights: outside,
		},
	}, nil
}

// ProposeGallery implements Proposer.
func (p *ONNXProposer) ProposeGallery(ctx context.Context, conv *tensor.Dense, boxes [][]float32, info ImageInfo) (*GalleryProposal, error) {
	if p.gallery == nil {
		return nil, errors.New("no gallery proposal model configured")
	}
	outputs, err := p.run(ctx, p.gallery, conv, boxes, info, 3)
	if err != nil {
		return nil, err
	}
	defer destroyAll(outputs)

	regions, err := toRows(outputs[0])
	if err != nil {
		return nil, err
	}
	pooled, err := toDense(outputs[1])
	if err != nil {
		return nil, err
	}
	aux, err := toDense(outputs[2])
	if err != nil {
		return nil, err
	}
	return &GalleryProposal{Regions: regions, Pooled: pooled, Aux: aux}, nil
}

// Pool implements Proposer.
func (p *ONNXProposer) Pool(ctx context.Context, conv *tensor.Dense, boxes [][]float32, info ImageInfo) (*tensor.Dense, error) {
	if p.pool == nil {
		return nil, errors.New("no pooling proposal model configured")
	}
	outputs, err := p.run(ctx, p.pool, conv, boxes, info, 1)
	if err != nil {
		return nil, err
	}
	defer destroyAll(outputs)
	return toDense(outputs[0])
}

// Close implements Proposer.
func (p *ONNXProposer) Close() error {
	var err error
	for _, sess := range []*ort.DynamicAdvancedSession{p.train, p.gallery, p.pool} {
		if sess != nil {
			err = errors.Join(err, sess.Destroy())
		}
	}
	p.train, p.gallery, p.pool = nil, nil, nil
	return err
}

func (p *ONNXProposer) run(ctx context.Context, sess *ort.DynamicAdvancedSession, conv *tensor.Dense, boxes [][]float32, info ImageInfo, numOutputs int) ([]ort.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	featData, featShape := conv.Data(), conv.Shape()
	dims := make([]int64, len(featShape))
	for i, d := range featShape {
		dims[i] = int64(d)
	}
	featTensor, err := ort.NewTensor(ort.NewShape(dims...), featData)
	if err != nil {
		return nil, fmt.Errorf("create features tensor: %w", err)
	}
	defer featTensor.Destroy()

	boxData, boxShape, err := FlattenBoxes(boxes)
	if err != nil {
		return nil, err
	}
	boxTensor, err := ort.NewTensor(ort.NewShape(boxShape[0], boxShape[1]), boxData)
	if err != nil {
		return nil, fmt.Errorf("create boxes tensor: %w", err)
	}
	defer boxTensor.Destroy()

	infoTensor, err := ort.NewTensor(ort.NewShape(3), []float32{info.Height, info.Width, info.Scale})
	if err != nil {
		return nil, fmt.Errorf("create im_info tensor: %w", err)
	}
	defer infoTensor.Destroy()

	outputs := make([]ort.Value, numOutputs)
	if err := sess.Run([]ort.Value{featTensor, boxTensor, infoTensor}, outputs); err != nil {
		destroyAll(outputs)
		return nil, fmt.Errorf("run proposal session: %w", err)
	}
	return outputs, nil
}

// FlattenBoxes validates that all box rows share a width and flattens them
// into a row-major slice with its 2D shape.
func FlattenBoxes(boxes [][]float32) ([]float32, [2]int64, error) {
	if len(boxes) == 0 {
		return []float32{}, [2]int64{0, 0}, nil
	}
	w := len(boxes[0])
	out := make([]float32, 0, len(boxes)*w)
	for i, row := range boxes {
		if len(row) != w {
			return nil, [2]int64{}, fmt.Errorf("box row %d has width %d, expected %d", i, len(row), w)
		}
		out = append(out, row...)
	}
	return out, [2]int64{int64(len(boxes)), int64(w)}, nil
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			_ = v.Destroy()
		}
	}
}

func toDense(v ort.Value) (*tensor.Dense, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output value type %T", v)
	}
	shape := t.GetShape()
	dims := make([]int, len(shape))
	for i, d := range shape {
		dims[i] = int(d)
	}
	data := append([]float32(nil), t.GetData()...)
	return tensor.FromSlice(data, dims...)
}

func toRows(v ort.Value) ([][]float32, error) {
	d, err := toDense(v)
	if err != nil {
		return nil, err
	}
	return d.Rows()
}

func toIntSlice(v ort.Value) ([]int, error) {
	d, err := toDense(v)
	if err != nil {
		return nil, err
	}
	out := make([]int, d.Len())
	for i, x := range d.Data() {
		out[i] = int(x)
	}
	return out, nil
}

func scalarOf(v ort.Value) float32 {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return 0
	}
	data := t.GetData()
	if len(data) == 0 {
		return 0
	}
	return data[0]
}
