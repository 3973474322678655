package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Supported XGBoost objectives.
const (
	objSoftprob      = "multi:softprob"
	objSoftmax       = "multi:softmax"
	objBinaryLogit   = "binary:logistic"
	objRegLogistic   = "reg:logistic"
	objSquaredError  = "reg:squarederror"
	objLinear        = "reg:linear"
	objAbsoluteError = "reg:absoluteerror"
	objPseudoHuber   = "reg:pseudohubererror"
)

// Booster evaluates a tree ensemble saved with XGBoost's save_model("*.json").
// It is immutable after loading and safe for concurrent use.
type Booster struct {
	featureNames []string
	numFeature   int
	numClass     int
	objective    string
	baseMargin   float64
	trees        []tree
	treeGroup    []int
}

// tree keeps split conditions (and leaf values) in float32, the precision
// XGBoost stores and compares them in.
type tree struct {
	left, right []int
	splitIndex  []int
	splitCond   []float32
	defaultLeft []bool
}

// xgbModel mirrors the parts of the JSON dump the evaluator needs.
type xgbModel struct {
	Learner xgbLearner `json:"learner"`
}

type xgbLearner struct {
	FeatureNames      []string      `json:"feature_names"`
	GradientBooster   xgbBooster    `json:"gradient_booster"`
	Objective         xgbObjective  `json:"objective"`
	LearnerModelParam xgbModelParam `json:"learner_model_param"`
}

type xgbObjective struct {
	Name string `json:"name"`
}

type xgbModelParam struct {
	BaseScore  string `json:"base_score"`
	NumClass   string `json:"num_class"`
	NumFeature string `json:"num_feature"`
}

type xgbBooster struct {
	Name   string      `json:"name"`
	Model  *xgbTrees   `json:"model"`
	Gbtree *xgbBooster `json:"gbtree"` // dart wraps a gbtree
}

type xgbTrees struct {
	Trees    []xgbTree `json:"trees"`
	TreeInfo []int     `json:"tree_info"`
}

type xgbTree struct {
	LeftChildren    []int      `json:"left_children"`
	RightChildren   []int      `json:"right_children"`
	SplitIndices    []int      `json:"split_indices"`
	SplitConditions []float64  `json:"split_conditions"`
	DefaultLeft     []flexBool `json:"default_left"`
	Categories      []int      `json:"categories"`
}

// flexBool accepts true/false as well as 0/1, both of which appear in
// XGBoost dumps depending on the version that wrote them.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch s := string(bytes.TrimSpace(data)); s {
	case "true", "1":
		*b = true
	case "false", "0":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", s)
	}
	return nil
}

// LoadBooster parses an XGBoost JSON model.
func LoadBooster(r io.Reader) (*Booster, error) {
	var m xgbModel
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding xgboost model: %w", err)
	}
	l := m.Learner

	gb := &l.GradientBooster
	switch gb.Name {
	case "gbtree":
	case "dart":
		if gb.Gbtree == nil {
			return nil, fmt.Errorf("dart booster without gbtree section")
		}
		gb = gb.Gbtree
	default:
		return nil, fmt.Errorf("unsupported booster %q: only gbtree and dart are supported", gb.Name)
	}
	if gb.Model == nil {
		return nil, fmt.Errorf("booster has no model section")
	}

	b := &Booster{
		featureNames: l.FeatureNames,
		objective:    l.Objective.Name,
		numClass:     1,
	}

	if n, err := parseIntParam(l.LearnerModelParam.NumClass); err != nil {
		return nil, fmt.Errorf("num_class: %w", err)
	} else if n > 1 {
		b.numClass = n
	}
	n, err := parseIntParam(l.LearnerModelParam.NumFeature)
	if err != nil {
		return nil, fmt.Errorf("num_feature: %w", err)
	}
	b.numFeature = n
	if len(b.featureNames) > 0 && len(b.featureNames) != b.numFeature {
		return nil, fmt.Errorf("model declares %d features but names %d", b.numFeature, len(b.featureNames))
	}

	base, err := parseBaseScore(l.LearnerModelParam.BaseScore)
	if err != nil {
		return nil, err
	}
	switch b.objective {
	case objSoftprob, objSoftmax:
		b.baseMargin = base
	case objBinaryLogit, objRegLogistic:
		if base <= 0 || base >= 1 {
			return nil, fmt.Errorf("base_score %v out of (0, 1) for %s", base, b.objective)
		}
		b.baseMargin = math.Log(base / (1 - base))
	case objSquaredError, objLinear, objAbsoluteError, objPseudoHuber:
		b.baseMargin = base
	default:
		return nil, fmt.Errorf("unsupported objective %q", b.objective)
	}

	trees := gb.Model.Trees
	if len(gb.Model.TreeInfo) != len(trees) {
		return nil, fmt.Errorf("tree_info has %d entries for %d trees", len(gb.Model.TreeInfo), len(trees))
	}
	for i, t := range trees {
		if len(t.Categories) > 0 {
			return nil, fmt.Errorf("tree %d: categorical splits are not supported", i)
		}
		if group := gb.Model.TreeInfo[i]; group < 0 || group >= b.numClass {
			return nil, fmt.Errorf("tree %d: output group %d out of range", i, group)
		}
		compiled, err := compileTree(t, b.numFeature)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		b.trees = append(b.trees, compiled)
	}
	b.treeGroup = gb.Model.TreeInfo
	return b, nil
}

func compileTree(t xgbTree, numFeature int) (tree, error) {
	n := len(t.LeftChildren)
	if n == 0 {
		return tree{}, fmt.Errorf("empty tree")
	}
	if len(t.RightChildren) != n || len(t.SplitIndices) != n || len(t.SplitConditions) != n || len(t.DefaultLeft) != n {
		return tree{}, fmt.Errorf("node arrays have mismatched lengths")
	}
	out := tree{
		left:        t.LeftChildren,
		right:       t.RightChildren,
		splitIndex:  t.SplitIndices,
		splitCond:   make([]float32, n),
		defaultLeft: make([]bool, n),
	}
	for i := range n {
		out.splitCond[i] = float32(t.SplitConditions[i])
		out.defaultLeft[i] = bool(t.DefaultLeft[i])
		if out.left[i] == -1 {
			continue
		}
		if out.left[i] <= i || out.left[i] >= n || out.right[i] <= i || out.right[i] >= n {
			return tree{}, fmt.Errorf("node %d has invalid children", i)
		}
		if out.splitIndex[i] < 0 || out.splitIndex[i] >= numFeature {
			return tree{}, fmt.Errorf("node %d splits on feature %d of %d", i, out.splitIndex[i], numFeature)
		}
	}
	return out, nil
}

// leaf walks from the root. Features are narrowed to float32 before the
// comparison and a value equal to the threshold goes right. A NaN feature
// follows the default direction.
func (t *tree) leaf(row []float64) float64 {
	node := 0
	for t.left[node] != -1 {
		v := row[t.splitIndex[node]]
		switch {
		case math.IsNaN(v):
			if t.defaultLeft[node] {
				node = t.left[node]
			} else {
				node = t.right[node]
			}
		case float32(v) < t.splitCond[node]:
			node = t.left[node]
		default:
			node = t.right[node]
		}
	}
	return float64(t.splitCond[node])
}

// FeatureNames returns the training-time column order.
func (b *Booster) FeatureNames() []string {
	return append([]string(nil), b.featureNames...)
}

// NumClass is the number of output groups; 1 for regression and binary.
func (b *Booster) NumClass() int {
	return b.numClass
}

// Objective is the XGBoost objective the model was trained with.
func (b *Booster) Objective() string {
	return b.objective
}

func (b *Booster) margins(row []float64) ([]float64, error) {
	if len(row) != b.numFeature {
		return nil, fmt.Errorf("row has %d features, model expects %d", len(row), b.numFeature)
	}
	out := make([]float64, b.numClass)
	for i := range out {
		out[i] = b.baseMargin
	}
	for i := range b.trees {
		out[b.treeGroup[i]] += b.trees[i].leaf(row)
	}
	return out, nil
}

// PredictProba returns class probabilities per row. Binary objectives yield
// [1-p, p].
func (b *Booster) PredictProba(ctx context.Context, rows [][]float64) ([][]float64, error) {
	out := make([][]float64, 0, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := b.margins(row)
		if err != nil {
			return nil, err
		}
		switch b.objective {
		case objSoftprob, objSoftmax:
			out = append(out, softmax(m))
		case objBinaryLogit, objRegLogistic:
			p := sigmoid(m[0])
			out = append(out, []float64{1 - p, p})
		default:
			return nil, fmt.Errorf("objective %q does not produce probabilities", b.objective)
		}
	}
	return out, nil
}

// Predict returns the regression output for one row.
func (b *Booster) Predict(ctx context.Context, row []float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if b.numClass != 1 {
		return 0, fmt.Errorf("objective %q has %d outputs, want 1", b.objective, b.numClass)
	}
	m, err := b.margins(row)
	if err != nil {
		return 0, err
	}
	if b.objective == objBinaryLogit || b.objective == objRegLogistic {
		return sigmoid(m[0]), nil
	}
	return m[0], nil
}

func softmax(m []float64) []float64 {
	hi := math.Inf(-1)
	for _, v := range m {
		hi = math.Max(hi, v)
	}
	out := make([]float64, len(m))
	sum := 0.0
	for i, v := range m {
		out[i] = math.Exp(v - hi)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func parseIntParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// parseBaseScore accepts "5E-1" and the bracketed vector form "[5E-1]"
// written by newer releases. Multi-target vectors must be uniform.
func parseBaseScore(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0.5, nil
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	parts := strings.Split(s, ",")
	first, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, fmt.Errorf("base_score %q: %w", s, err)
	}
	for _, p := range parts[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || v != first {
			return 0, fmt.Errorf("base_score %q: per-class base scores are not supported", s)
		}
	}
	return first, nil
}
