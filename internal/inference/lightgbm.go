package inference

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dmitryikh/leaves"
)

// LightGBM is a model saved with LightGBM's save_model (text format),
// evaluated in process by leaves. It is immutable after loading and safe
// for concurrent use.
type LightGBM struct {
	ensemble     *leaves.Ensemble
	featureNames []string
	objective    string
	numClass     int
}

// LoadLightGBM parses a LightGBM text model. Raw scores are kept; Predict
// and PredictProba apply the objective's link function themselves.
func LoadLightGBM(r io.Reader) (*LightGBM, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading lightgbm model: %w", err)
	}
	header := lightGBMHeader(data)

	ensemble, err := leaves.LGEnsembleFromReader(bufio.NewReader(bytes.NewReader(data)), false)
	if err != nil {
		return nil, fmt.Errorf("parsing lightgbm model: %w", err)
	}

	m := &LightGBM{
		ensemble: ensemble,
		numClass: ensemble.NOutputGroups(),
	}
	// objective=multiclass num_class:3 carries its parameters inline.
	if f := strings.Fields(header["objective"]); len(f) > 0 {
		m.objective = f[0]
	}
	if names := strings.Fields(header["feature_names"]); len(names) > 0 {
		if len(names) != ensemble.NFeatures() {
			return nil, fmt.Errorf("model declares %d features but names %d", ensemble.NFeatures(), len(names))
		}
		m.featureNames = names
	}
	if n, err := strconv.Atoi(header["num_class"]); err == nil && n != m.numClass {
		return nil, fmt.Errorf("num_class %d does not match %d output groups", n, m.numClass)
	}
	return m, nil
}

// lightGBMHeader reads the key=value lines before the first tree.
func lightGBMHeader(data []byte) map[string]string {
	out := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "Tree=") {
			break
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			out[k] = v
		}
	}
	return out
}

// FeatureNames returns the training-time column order.
func (m *LightGBM) FeatureNames() []string {
	return append([]string(nil), m.featureNames...)
}

// NumClass is the number of output groups; 1 for regression and binary.
func (m *LightGBM) NumClass() int {
	return m.numClass
}

// Objective is the LightGBM objective name, without its parameters.
func (m *LightGBM) Objective() string {
	return m.objective
}

func (m *LightGBM) raw(row []float64) ([]float64, error) {
	if len(row) != m.ensemble.NFeatures() {
		return nil, fmt.Errorf("row has %d features, model expects %d", len(row), m.ensemble.NFeatures())
	}
	out := make([]float64, m.numClass)
	if err := m.ensemble.Predict(row, 0, out); err != nil {
		return nil, fmt.Errorf("lightgbm predict: %w", err)
	}
	return out, nil
}

// PredictProba returns class probabilities per row. Binary objectives yield
// [1-p, p].
func (m *LightGBM) PredictProba(ctx context.Context, rows [][]float64) ([][]float64, error) {
	out := make([][]float64, 0, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scores, err := m.raw(row)
		if err != nil {
			return nil, err
		}
		switch m.objective {
		case "multiclass", "softmax":
			out = append(out, softmax(scores))
		case "binary":
			p := sigmoid(scores[0])
			out = append(out, []float64{1 - p, p})
		default:
			return nil, fmt.Errorf("objective %q does not produce probabilities", m.objective)
		}
	}
	return out, nil
}

// Predict returns the regression output for one row.
func (m *LightGBM) Predict(ctx context.Context, row []float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if m.numClass != 1 {
		return 0, fmt.Errorf("objective %q has %d outputs, want 1", m.objective, m.numClass)
	}
	scores, err := m.raw(row)
	if err != nil {
		return 0, err
	}
	if m.objective == "binary" {
		return sigmoid(scores[0]), nil
	}
	return scores[0], nil
}
