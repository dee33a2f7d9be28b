package nn

import (
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const barWidth = 20

// Progress prints the per-epoch lines of Fit. Live in-place batch updates are
// throttled so fast epochs do not flood the terminal.
type Progress struct {
	w       io.Writer
	live    bool
	limiter *rate.Limiter
}

func NewProgress(w io.Writer, live bool) *Progress {
	return &Progress{w: w, live: live, limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1)}
}

func (p *Progress) Begin(epoch, epochs int) {
	fmt.Fprintf(p.w, "Epoch %d/%d\n", epoch, epochs)
}

func (p *Progress) Batch(done, total int, loss, acc float64) {
	if !p.live || done == total || !p.limiter.Allow() {
		return
	}
	fmt.Fprintf(p.w, "\r%d/%d %s - accuracy: %.4f - loss: %.4f", done, total, bar(done, total), acc, loss)
}

func (p *Progress) End(total int, log EpochLog) {
	if p.live {
		fmt.Fprint(p.w, "\r")
	}
	perStep := log.Duration / time.Duration(max(total, 1))
	fmt.Fprintf(p.w, "%d/%d %s %ds %s/step - accuracy: %.4f - loss: %.4f",
		total, total, bar(total, total), int(log.Duration.Seconds()), perStep.Round(time.Millisecond), log.Accuracy, log.Loss)
	if log.HasVal {
		fmt.Fprintf(p.w, " - val_accuracy: %.4f - val_loss: %.4f", log.ValAccuracy, log.ValLoss)
	}
	fmt.Fprintf(p.w, " - learning_rate: %.4e\n", log.LearningRate)
}

func bar(done, total int) string {
	filled := barWidth
	if total > 0 {
		filled = done * barWidth / total
	}
	return strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)
}
