package onnxcheck

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"

	"yolo-export/internal/types"
)

func graph(shape ...int64) *Graph {
	return &Graph{
		Inputs:  []Port{{Name: "images", Shape: shape, DataType: "float32"}},
		Outputs: []Port{{Name: "output0", Shape: []int64{1, 84, 8400}, DataType: "float32"}},
	}
}

func TestCheckImageInput(t *testing.T) {
	tests := []struct {
		name    string
		g       *Graph
		imgsz   int
		wantErr string
	}{
		{"static match", graph(1, 3, 640, 640), 640, ""},
		{"dynamic batch", graph(-1, 3, 640, 640), 640, ""},
		{"dynamic spatial", graph(1, 3, -1, -1), 320, ""},
		{"wrong size", graph(1, 3, 320, 320), 640, "dimension 2 is 320, expected 640"},
		{"wrong channels", graph(1, 1, 640, 640), 640, "dimension 1 is 1, expected 3"},
		{"wrong rank", graph(3, 640, 640), 640, "rank 4"},
		{"no inputs", &Graph{Outputs: []Port{{Name: "o"}}}, 640, "no inputs"},
		{"no outputs", &Graph{Inputs: []Port{{Name: "i", Shape: []int64{1, 3, 640, 640}}}}, 640, "no outputs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckImageInput(tt.g, tt.imgsz)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, types.ErrVerifyFailed, appErr.Code)
		})
	}
}

func TestConvert(t *testing.T) {
	ports := convert([]ort.InputOutputInfo{
		{Name: "images", Dimensions: ort.Shape{1, 3, 640, 640}, DataType: ort.TensorElementDataTypeFloat},
		{Name: "mask", Dimensions: ort.Shape{-1, 32}, DataType: ort.TensorElementDataTypeInt64},
	})

	require.Len(t, ports, 2)
	assert.Equal(t, Port{Name: "images", Shape: []int64{1, 3, 640, 640}, DataType: "float32"}, ports[0])
	assert.Equal(t, "[-1 32]", ports[1].ShapeString())
	assert.Equal(t, "int64", ports[1].DataType)
}

func TestVerify_SkipsOtherFormats(t *testing.T) {
	i := New("")
	err := i.Verify(context.Background(), "/nonexistent/yolo11n.torchscript",
		types.ExportJob{Model: "yolo11n", Format: "torchscript", ImgSize: 640})
	assert.NoError(t, err)
}

func TestClose_WithoutInit(t *testing.T) {
	assert.NoError(t, New("").Close())
}
