// Package onnxcheck reads the input/output signature of an exported ONNX
// file through ONNX Runtime and checks it against the export job.
package onnxcheck

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"yolo-export/internal/logger"
	"yolo-export/internal/types"
)

// Port is one graph input or output. Dynamic dimensions are negative.
type Port struct {
	Name     string
	Shape    []int64
	DataType string
}

// ShapeString renders the shape as e.g. [1 3 640 640].
func (p Port) ShapeString() string {
	return fmt.Sprint(p.Shape)
}

// Graph is the signature of an ONNX model.
type Graph struct {
	Inputs   []Port
	Outputs  []Port
	Producer string
}

// Inspector owns the process-wide ONNX Runtime environment.
type Inspector struct {
	libraryPath string

	mu    sync.Mutex
	owned bool
}

// New creates an Inspector. An empty libraryPath lets onnxruntime_go use its
// platform default.
func New(libraryPath string) *Inspector {
	return &Inspector{libraryPath: libraryPath}
}

func (i *Inspector) init() error {
	if ort.IsInitialized() {
		return nil
	}
	if i.libraryPath != "" {
		ort.SetSharedLibraryPath(i.libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return types.NewAppErrorWithDetails(types.ErrVerifyFailed,
			"initialising ONNX Runtime", i.libraryPath, err)
	}
	i.owned = true
	logger.Debug("onnx runtime initialised", logger.String("library", i.libraryPath))
	return nil
}

// Close tears down the runtime if this Inspector started it.
func (i *Inspector) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.owned {
		return nil
	}
	i.owned = false
	return ort.DestroyEnvironment()
}

// Inspect reads the signature of the model at path.
func (i *Inspector) Inspect(path string) (*Graph, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.init(); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrVerifyFailed, "reading ONNX graph", path, err)
	}

	g := &Graph{Inputs: convert(inputs), Outputs: convert(outputs)}

	if meta, err := ort.GetModelMetadata(path); err == nil {
		if producer, err := meta.GetProducerName(); err == nil {
			g.Producer = producer
		}
		meta.Destroy()
	}
	return g, nil
}

// Verify implements exporter.Verifier. Non-ONNX formats are not checked.
func (i *Inspector) Verify(ctx context.Context, path string, job types.ExportJob) error {
	if !strings.EqualFold(job.Format, "onnx") {
		logger.Debug("skipping graph check", logger.String("format", job.Format))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	g, err := i.Inspect(path)
	if err != nil {
		return err
	}
	logger.Debug("onnx graph",
		logger.Int("inputs", len(g.Inputs)),
		logger.Int("outputs", len(g.Outputs)),
		logger.String("producer", g.Producer))

	return CheckImageInput(g, job.ImgSize)
}

// CheckImageInput requires one image input shaped N x 3 x imgsz x imgsz and at
// least one output. Dynamic dimensions match anything.
func CheckImageInput(g *Graph, imgsz int) error {
	if len(g.Inputs) == 0 {
		return types.NewAppError(types.ErrVerifyFailed, "model has no inputs", nil)
	}
	if len(g.Outputs) == 0 {
		return types.NewAppError(types.ErrVerifyFailed, "model has no outputs", nil)
	}

	in := g.Inputs[0]
	if len(in.Shape) != 4 {
		return types.NewAppErrorWithDetails(types.ErrVerifyFailed,
			"image input must be rank 4", in.Name+" "+in.ShapeString(), nil)
	}

	want := []int64{-1, 3, int64(imgsz), int64(imgsz)}
	for axis := 1; axis < 4; axis++ {
		got := in.Shape[axis]
		if got < 0 {
			continue
		}
		if got != want[axis] {
			return types.NewAppErrorWithDetails(types.ErrVerifyFailed,
				fmt.Sprintf("image input dimension %d is %d, expected %d", axis, got, want[axis]),
				in.Name+" "+in.ShapeString(), nil)
		}
	}
	return nil
}

func convert(infos []ort.InputOutputInfo) []Port {
	ports := make([]Port, 0, len(infos))
	for _, info := range infos {
		ports = append(ports, Port{
			Name:     info.Name,
			Shape:    append([]int64(nil), info.Dimensions...),
			DataType: dataTypeName(info.DataType),
		})
	}
	return ports
}

func dataTypeName(t ort.TensorElementDataType) string {
	switch t {
	case ort.TensorElementDataTypeFloat:
		return "float32"
	case ort.TensorElementDataTypeFloat16:
		return "float16"
	case ort.TensorElementDataTypeDouble:
		return "float64"
	case ort.TensorElementDataTypeInt64:
		return "int64"
	case ort.TensorElementDataTypeInt32:
		return "int32"
	case ort.TensorElementDataTypeInt8:
		return "int8"
	case ort.TensorElementDataTypeUint8:
		return "uint8"
	case ort.TensorElementDataTypeBool:
		return "bool"
	case ort.TensorElementDataTypeString:
		return "string"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}
