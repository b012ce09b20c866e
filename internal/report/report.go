// Package report prints operator-facing export messages. English output is
// the canonical wording; a Chinese catalog is registered for --lang zh.
package report

import (
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"yolo-export/internal/types"
)

// Message keys. They double as the English text.
const (
	msgDownloading    = "Downloading %s model...\n"
	msgExportingTo    = "Exporting to %s format...\n"
	msgExported       = "✓ Model exported successfully to %s\n"
	msgModelSize      = "✓ Model size: %s MB\n"
	msgNotProduced    = "✗ Export failed - %s not found\n"
	msgNotInstalled   = "Error: ultralytics package not installed\n"
	msgInstallHint    = "Please install it with: pip install ultralytics\n"
	msgError          = "Error: %s\n"
	msgGraphSummary   = "✓ ONNX graph: %s inputs, %s outputs\n"
	msgGraphInput     = "  input  %s %s %s\n"
	msgGraphOutput    = "  output %s %s %s\n"
	msgHistoryEmpty   = "No export runs recorded.\n"
	msgHistoryEntry   = "%s  %s  %-18s %s\n"
	msgHistoryCleared = "Export history cleared.\n"
)

func init() {
	zh := language.Chinese
	for key, text := range map[string]string{
		msgDownloading:    "正在下载 %s 模型...\n",
		msgExportingTo:    "正在导出为 %s 格式...\n",
		msgExported:       "✓ 模型已成功导出到 %s\n",
		msgModelSize:      "✓ 模型大小: %s MB\n",
		msgNotProduced:    "✗ 导出失败 - 未找到 %s\n",
		msgNotInstalled:   "错误: 未安装 ultralytics 包\n",
		msgInstallHint:    "请使用以下命令安装: pip install ultralytics\n",
		msgError:          "错误: %s\n",
		msgGraphSummary:   "✓ ONNX 计算图: %s 个输入, %s 个输出\n",
		msgGraphInput:     "  输入 %s %s %s\n",
		msgGraphOutput:    "  输出 %s %s %s\n",
		msgHistoryEmpty:   "暂无导出记录。\n",
		msgHistoryEntry:   "%s  %s  %-18s %s\n",
		msgHistoryCleared: "导出记录已清除。\n",
	} {
		message.SetString(zh, key, text)
	}
}

// Reporter writes messages to w in one language.
type Reporter struct {
	w io.Writer
	p *message.Printer
}

// New creates a Reporter. Any tag whose base language is Chinese selects the
// Chinese catalog; everything else prints English.
func New(w io.Writer, lang string) *Reporter {
	return &Reporter{w: w, p: message.NewPrinter(Language(lang))}
}

// Language resolves a --lang value to a supported tag.
func Language(lang string) language.Tag {
	tag, err := language.Parse(lang)
	if err != nil {
		return language.English
	}
	if base, _ := tag.Base(); base.String() == "zh" {
		return language.Chinese
	}
	return language.English
}

// Numbers are pre-formatted with strconv so the printer never applies
// locale digit grouping to them.
func (r *Reporter) printf(key string, args ...interface{}) {
	r.p.Fprintf(r.w, key, args...)
}

// Acquiring prints the download banner, e.g. "Downloading YOLOv11n model...".
func (r *Reporter) Acquiring(job types.ExportJob) {
	r.printf(msgDownloading, DisplayName(job.Model))
}

func (r *Reporter) Exporting(job types.ExportJob) {
	r.printf(msgExportingTo, strings.ToUpper(job.Format))
}

func (r *Reporter) Exported(job types.ExportJob, sizeBytes int64) {
	r.printf(msgExported, job.OutputName())
	r.printf(msgModelSize, FormatMB(sizeBytes))
}

func (r *Reporter) NotProduced(job types.ExportJob) {
	r.printf(msgNotProduced, job.OutputName())
}

func (r *Reporter) CapabilityMissing() {
	r.printf(msgNotInstalled)
	r.printf(msgInstallHint)
}

func (r *Reporter) Failed(err error) {
	r.printf(msgError, err.Error())
}

// Port is one graph input or output as shown by Graph.
type Port struct {
	Name     string
	Shape    string
	DataType string
}

// Graph prints an ONNX input/output summary.
func (r *Reporter) Graph(inputs, outputs []Port) {
	r.printf(msgGraphSummary, strconv.Itoa(len(inputs)), strconv.Itoa(len(outputs)))
	for _, p := range inputs {
		r.printf(msgGraphInput, p.Name, p.Shape, p.DataType)
	}
	for _, p := range outputs {
		r.printf(msgGraphOutput, p.Name, p.Shape, p.DataType)
	}
}

// HistoryEntry is one row of `history list`.
type HistoryEntry struct {
	When    string
	Model   string
	Outcome string
	Detail  string
}

// History prints recorded runs, newest first as given.
func (r *Reporter) History(entries []HistoryEntry) {
	if len(entries) == 0 {
		r.printf(msgHistoryEmpty)
		return
	}
	for _, e := range entries {
		r.printf(msgHistoryEntry, e.When, e.Model, e.Outcome, e.Detail)
	}
}

func (r *Reporter) HistoryCleared() {
	r.printf(msgHistoryCleared)
}

// FormatMB renders bytes / 1024² with one decimal place.
func FormatMB(sizeBytes int64) string {
	return strconv.FormatFloat(float64(sizeBytes)/(1024*1024), 'f', 1, 64)
}

// DisplayName turns a model key into its marketing name:
// yolo11n → YOLOv11n, yolov8s → YOLOv8s. Other names pass through.
func DisplayName(model string) string {
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "yolov"):
		return "YOLOv" + model[len("yolov"):]
	case strings.HasPrefix(lower, "yolo"):
		return "YOLOv" + model[len("yolo"):]
	default:
		return model
	}
}
