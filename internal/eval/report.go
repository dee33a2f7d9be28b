// Package eval turns sigmoid outputs into class decisions and summarises them.
package eval

import (
	"fmt"
	"io"
	"strings"
)

// TargetNames label class 0 and class 1 in reports.
var TargetNames = [2]string{"Non-Scream", "Scream"}

// Threshold maps probabilities to 0/1; only values strictly above cut become 1.
func Threshold(probs []float64, cut float64) []int {
	out := make([]int, len(probs))
	for i, p := range probs {
		if p > cut {
			out[i] = 1
		}
	}
	return out
}

// Labels converts float labels to classes. Values other than 0 and 1 are rejected.
func Labels(y []float64) ([]int, error) {
	out := make([]int, len(y))
	for i, v := range y {
		switch v {
		case 0:
		case 1:
			out[i] = 1
		default:
			return nil, fmt.Errorf("eval: sample %d: label must be 0 or 1, got %v", i, v)
		}
	}
	return out, nil
}

// Confusion is indexed [actual][predicted].
type Confusion [2][2]int

// NewConfusion counts label pairs. Both slices must have equal length.
func NewConfusion(yTrue, yPred []int) (Confusion, error) {
	var cm Confusion
	if len(yTrue) != len(yPred) {
		return cm, fmt.Errorf("eval: %d labels but %d predictions", len(yTrue), len(yPred))
	}
	for i := range yTrue {
		a, p := yTrue[i], yPred[i]
		if a < 0 || a > 1 || p < 0 || p > 1 {
			return cm, fmt.Errorf("eval: sample %d: labels must be 0 or 1, got %d/%d", i, a, p)
		}
		cm[a][p]++
	}
	return cm, nil
}

func (c Confusion) Total() int { return c[0][0] + c[0][1] + c[1][0] + c[1][1] }

// ClassScores are the per-class figures of a report.
type ClassScores struct {
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report holds precision/recall/F1 for both classes plus averages.
type Report struct {
	Classes     [2]ClassScores
	Accuracy    float64
	MacroAvg    ClassScores
	WeightedAvg ClassScores
	Total       int
}

// NewReport derives a report from a confusion matrix. Undefined ratios are 0.
func NewReport(cm Confusion) Report {
	r := Report{Total: cm.Total()}
	for k := 0; k < 2; k++ {
		tp := cm[k][k]
		predicted := cm[0][k] + cm[1][k]
		actual := cm[k][0] + cm[k][1]
		s := ClassScores{
			Precision: ratio(tp, predicted),
			Recall:    ratio(tp, actual),
			Support:   actual,
		}
		if s.Precision+s.Recall > 0 {
			s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
		}
		r.Classes[k] = s
	}
	r.Accuracy = ratio(cm[0][0]+cm[1][1], r.Total)
	for _, s := range r.Classes {
		r.MacroAvg.Precision += s.Precision / 2
		r.MacroAvg.Recall += s.Recall / 2
		r.MacroAvg.F1 += s.F1 / 2
		if r.Total > 0 {
			w := float64(s.Support) / float64(r.Total)
			r.WeightedAvg.Precision += s.Precision * w
			r.WeightedAvg.Recall += s.Recall * w
			r.WeightedAvg.F1 += s.F1 * w
		}
	}
	r.MacroAvg.Support = r.Total
	r.WeightedAvg.Support = r.Total
	return r
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// Write prints the report in the familiar classification-report layout with three decimals.
func (r Report) Write(w io.Writer) {
	width := len("weighted avg")
	for _, n := range TargetNames {
		width = max(width, len(n))
	}
	fmt.Fprintf(w, "%*s  %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	for k, s := range r.Classes {
		writeRow(w, width, TargetNames[k], s)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%*s  %9s %9s %9.3f %9d\n", width, "accuracy", "", "", r.Accuracy, r.Total)
	writeRow(w, width, "macro avg", r.MacroAvg)
	writeRow(w, width, "weighted avg", r.WeightedAvg)
}

func writeRow(w io.Writer, width int, name string, s ClassScores) {
	fmt.Fprintf(w, "%*s  %9.3f %9.3f %9.3f %9d\n", width, name, s.Precision, s.Recall, s.F1, s.Support)
}

// String renders the report.
func (r Report) String() string {
	var b strings.Builder
	r.Write(&b)
	return b.String()
}

// WriteConfusion prints the fixed two-by-two table.
func WriteConfusion(w io.Writer, cm Confusion) {
	fmt.Fprintln(w, "                Predicted")
	fmt.Fprintln(w, "                Non-Scream  Scream")
	fmt.Fprintf(w, "Actual Non-Scream    %3d       %3d\n", cm[0][0], cm[0][1])
	fmt.Fprintf(w, "Actual Scream        %3d       %3d\n", cm[1][0], cm[1][1])
}
