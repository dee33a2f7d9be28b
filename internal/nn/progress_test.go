package nn

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestProgressKeepsHalvedRatesDistinct(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, false)
	for _, lr := range []float64{0.001, 0.000125, 0.0000625} {
		p.End(3, EpochLog{Epoch: 1, Loss: 0.5, Accuracy: 0.75, LearningRate: lr, Duration: time.Second})
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{"learning_rate: 1.0000e-03", "learning_rate: 1.2500e-04", "learning_rate: 6.2500e-05"}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	for i, w := range want {
		if !strings.HasSuffix(lines[i], w) {
			t.Fatalf("line %d = %q, want suffix %q", i, lines[i], w)
		}
	}
}

func TestProgressPrintsValidation(t *testing.T) {
	var buf bytes.Buffer
	NewProgress(&buf, false).End(2, EpochLog{Loss: 0.4, Accuracy: 0.8, ValLoss: 0.45, ValAccuracy: 0.7, HasVal: true, LearningRate: 0.001})
	if !strings.Contains(buf.String(), " - val_accuracy: 0.7000 - val_loss: 0.4500 - ") {
		t.Fatalf("missing validation figures: %q", buf.String())
	}
}
