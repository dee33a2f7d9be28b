package theme

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"github.com/mattn/go-isatty"
)

const (
	cyan    = "\033[36m"
	magenta = "\033[35m"
	yellow  = "\033[33m"
	reset   = "\033[0m"
)

// Rule is the separator line used around console banners.
var Rule = strings.Repeat("=", 60)

// Divider separates sub-sections.
var Divider = strings.Repeat("-", 60)

// Colorize reports whether w is a terminal that should receive ANSI colours.
func Colorize(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func paint(on bool, color, s string) string {
	if !on {
		return s
	}
	return color + s + reset
}

// Banner returns the start-of-training banner.
func Banner(color bool) string {
	var b strings.Builder
	b.WriteString(paint(color, cyan, Rule) + "\n")
	b.WriteString(paint(color, magenta, "SCREAM DETECTION MODEL TRAINING") + "\n")
	b.WriteString(paint(color, cyan, Rule) + "\n")
	b.WriteString(paint(color, yellow, Platform()) + "\n")
	return b.String()
}

// Section returns a titled block such as "💾 SAVING MODEL".
func Section(color bool, title string) string {
	return "\n" + paint(color, cyan, Rule) + "\n" + paint(color, magenta, title) + "\n" + paint(color, cyan, Rule)
}

// Platform describes the CPU the model trains on.
func Platform() string {
	name := strings.TrimSpace(cpuid.CPU.BrandName)
	if name == "" {
		name = runtime.GOARCH
	}
	var feats []string
	for _, f := range []cpuid.FeatureID{cpuid.AVX2, cpuid.AVX512F, cpuid.FMA3, cpuid.ASIMD} {
		if cpuid.CPU.Supports(f) {
			feats = append(feats, f.String())
		}
	}
	threads := cpuid.CPU.LogicalCores
	if threads == 0 {
		threads = runtime.NumCPU()
	}
	line := fmt.Sprintf("cpu: %s (%d threads)", name, threads)
	if len(feats) > 0 {
		line += " " + strings.Join(feats, ",")
	}
	return line
}

// PrintBanner writes the banner to w, coloured only on terminals.
func PrintBanner(w io.Writer) {
	fmt.Fprint(w, Banner(Colorize(w)))
}
