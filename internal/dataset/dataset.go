// Package dataset reads and writes the textual points format:
//
//	3
//	1.0, 2.0
//	2.0, 4.1
//	3.0, 5.9
//
// The first non-blank line is the number of points, followed by exactly that
// many "x, y" lines.
package dataset

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/copyleftdev/curvefit/internal/errors"
	"github.com/copyleftdev/curvefit/internal/optimization"
)

// Parse reads a dataset from r. maxPoints bounds the declared count; zero
// or a negative value means unbounded.
func Parse(r io.Reader, maxPoints int) ([]optimization.Sample, error) {
	const op = "dataset.Parse"

	scanner := bufio.NewScanner(r)
	lineNo := 0
	next := func() (string, bool) {
		for scanner.Scan() {
			lineNo++
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				return line, true
			}
		}
		return "", false
	}

	header, ok := next()
	if !ok {
		if err := scanner.Err(); err != nil {
			return nil, errors.Wrap(err, "reading dataset").WithOperation(op).WithKind(errors.KindInput)
		}
		return nil, errors.E(errors.KindInput, op, "missing point count")
	}

	n, err := strconv.Atoi(header)
	if err != nil {
		return nil, errors.E(errors.KindInput, op, "line %d: invalid point count %q", lineNo, header)
	}
	if n <= 0 {
		return nil, errors.E(errors.KindInput, op, "line %d: point count must be positive, got %d", lineNo, n)
	}
	if maxPoints > 0 && n > maxPoints {
		return nil, errors.E(errors.KindInput, op, "line %d: point count %d exceeds limit %d", lineNo, n, maxPoints)
	}

	samples := make([]optimization.Sample, 0, n)
	for i := 0; i < n; i++ {
		line, ok := next()
		if !ok {
			if err := scanner.Err(); err != nil {
				return nil, errors.Wrap(err, "reading dataset").WithOperation(op).WithKind(errors.KindInput)
			}
			return nil, errors.E(errors.KindInput, op, "expected %d points, found %d", n, i)
		}

		s, err := parseSample(line)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo).WithOperation(op).WithKind(errors.KindInput)
		}
		samples = append(samples, s)
	}

	return samples, nil
}

func parseSample(line string) (optimization.Sample, error) {
	xs, ys, ok := strings.Cut(line, ",")
	if !ok {
		return optimization.Sample{}, fmt.Errorf("expected \"x, y\", got %q", line)
	}

	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return optimization.Sample{}, fmt.Errorf("invalid x value: %w", err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return optimization.Sample{}, fmt.Errorf("invalid y value: %w", err)
	}

	s := optimization.Sample{X: x, Y: y}
	if err := optimization.ValidateSamples([]optimization.Sample{s}); err != nil {
		return optimization.Sample{}, fmt.Errorf("non-finite value in %q", line)
	}
	return s, nil
}

// Format writes samples in the format accepted by Parse.
func Format(w io.Writer, samples []optimization.Sample) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\n", len(samples))
	for _, s := range samples {
		fmt.Fprintf(bw, "%s, %s\n",
			strconv.FormatFloat(s.X, 'g', -1, 64),
			strconv.FormatFloat(s.Y, 'g', -1, 64))
	}
	return bw.Flush()
}
