package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"supermarket-sales/internal/features"
)

// Objectives whose prediction is the raw margin.
var identityObjectives = map[string]bool{
	"reg:squarederror":     true,
	"reg:linear":           true,
	"reg:pseudohubererror": true,
	"reg:absoluteerror":    true,
}

const defaultBaseScore = 0.5

// TreeEnsemble is a gradient-boosted regression forest read from an XGBoost
// JSON model. It implements both Model and Explainer.
type TreeEnsemble struct {
	trees       []regressionTree
	baseScore   float64
	numFeatures int
	objective   string
	bias        float64
}

type regressionTree struct {
	left        []int
	right       []int
	feature     []int
	threshold   []float64
	defaultLeft []bool
	// cover-weighted mean output of the subtree rooted at each node
	expected []float64
}

type xgbModelFile struct {
	Learner struct {
		FeatureNames    []string `json:"feature_names"`
		GradientBooster struct {
			Name  string `json:"name"`
			Model struct {
				Trees []xgbTree `json:"trees"`
			} `json:"model"`
		} `json:"gradient_booster"`
		LearnerModelParam struct {
			BaseScore  string `json:"base_score"`
			NumFeature string `json:"num_feature"`
			NumTarget  string `json:"num_target"`
		} `json:"learner_model_param"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
	} `json:"learner"`
}

type xgbTree struct {
	LeftChildren    []int     `json:"left_children"`
	RightChildren   []int     `json:"right_children"`
	SplitIndices    []int     `json:"split_indices"`
	SplitConditions []float64 `json:"split_conditions"`
	DefaultLeft     flagList  `json:"default_left"`
	SumHessian      []float64 `json:"sum_hessian"`
	SplitType       []int     `json:"split_type"`
}

// flagList decodes default_left, which older exports write as 0/1 integers
// and newer ones as booleans.
type flagList []bool

func (f *flagList) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]bool, len(raw))
	for i, v := range raw {
		switch t := v.(type) {
		case bool:
			out[i] = t
		case float64:
			out[i] = t != 0
		default:
			return fmt.Errorf("default_left[%d]: unexpected %T", i, v)
		}
	}
	*f = out
	return nil
}

// LoadXGBoost reads an XGBoost JSON model and checks it against schema.
func LoadXGBoost(path string, schema *features.Schema) (*TreeEnsemble, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read model: %w", ErrArtifactLoad, err)
	}
	return ParseXGBoost(data, schema)
}

// ParseXGBoost decodes an XGBoost JSON model. Only gbtree boosters with
// numerical splits and an identity-link regression objective are accepted.
func ParseXGBoost(data []byte, schema *features.Schema) (*TreeEnsemble, error) {
	var doc xgbModelFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode model: %w", ErrArtifactLoad, err)
	}
	learner := doc.Learner

	if name := learner.GradientBooster.Name; name != "gbtree" {
		return nil, fmt.Errorf("%w: unsupported booster %q", ErrArtifactLoad, name)
	}
	if obj := learner.Objective.Name; !identityObjectives[obj] {
		return nil, fmt.Errorf("%w: unsupported objective %q", ErrArtifactLoad, obj)
	}
	if nt := learner.LearnerModelParam.NumTarget; nt != "" && nt != "0" && nt != "1" {
		return nil, fmt.Errorf("%w: multi-target models are not supported", ErrArtifactLoad)
	}

	baseScore, err := parseBaseScore(learner.LearnerModelParam.BaseScore)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifactLoad, err)
	}

	numFeatures := schema.Len()
	if nf := learner.LearnerModelParam.NumFeature; nf != "" {
		n, err := strconv.Atoi(nf)
		if err != nil {
			return nil, fmt.Errorf("%w: num_feature %q: %w", ErrArtifactLoad, nf, err)
		}
		if n != numFeatures {
			return nil, fmt.Errorf("%w: %w: model has %d features, schema has %d",
				ErrArtifactLoad, features.ErrSchemaMismatch, n, numFeatures)
		}
	}
	if names := learner.FeatureNames; len(names) > 0 {
		if err := checkFeatureNames(names, schema); err != nil {
			return nil, err
		}
	}

	trees := learner.GradientBooster.Model.Trees
	if len(trees) == 0 {
		return nil, fmt.Errorf("%w: model has no trees", ErrArtifactLoad)
	}

	ens := &TreeEnsemble{
		trees:       make([]regressionTree, 0, len(trees)),
		baseScore:   baseScore,
		numFeatures: numFeatures,
		objective:   learner.Objective.Name,
		bias:        baseScore,
	}
	for i, t := range trees {
		tree, err := buildTree(t, numFeatures)
		if err != nil {
			return nil, fmt.Errorf("%w: tree %d: %w", ErrArtifactLoad, i, err)
		}
		ens.trees = append(ens.trees, tree)
		ens.bias += tree.expected[0]
	}
	return ens, nil
}

func checkFeatureNames(names []string, schema *features.Schema) error {
	model, err := features.NewSchema(names)
	if err != nil {
		return fmt.Errorf("%w: feature_names: %w", ErrArtifactLoad, err)
	}
	if !model.Equal(schema) {
		return fmt.Errorf("%w: %w: model feature_names differ from schema columns",
			ErrArtifactLoad, features.ErrSchemaMismatch)
	}
	return nil
}

// parseBaseScore handles both "5E-1" and the bracketed "[5E-1]" form.
func parseBaseScore(s string) (float64, error) {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "[]"))
	if s == "" {
		return defaultBaseScore, nil
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return 0, fmt.Errorf("base_score %q has more than one value", s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("base_score %q: %w", s, err)
	}
	return v, nil
}

func buildTree(t xgbTree, numFeatures int) (regressionTree, error) {
	n := len(t.LeftChildren)
	if n == 0 {
		return regressionTree{}, fmt.Errorf("empty tree")
	}
	if len(t.RightChildren) != n || len(t.SplitIndices) != n ||
		len(t.SplitConditions) != n || len(t.DefaultLeft) != n {
		return regressionTree{}, fmt.Errorf("node arrays have inconsistent lengths")
	}
	for _, st := range t.SplitType {
		if st != 0 {
			return regressionTree{}, fmt.Errorf("categorical splits are not supported")
		}
	}
	hess := t.SumHessian
	if len(hess) != n {
		hess = make([]float64, n)
	}

	tree := regressionTree{
		left:        t.LeftChildren,
		right:       t.RightChildren,
		feature:     t.SplitIndices,
		threshold:   t.SplitConditions,
		defaultLeft: t.DefaultLeft,
		expected:    make([]float64, n),
	}

	for i := 0; i < n; i++ {
		l, r := tree.left[i], tree.right[i]
		if l == -1 && r == -1 {
			continue
		}
		// Children always follow their parent, which also rules out cycles.
		if l <= i || r <= i || l >= n || r >= n {
			return regressionTree{}, fmt.Errorf("node %d has invalid children %d/%d", i, l, r)
		}
		if f := tree.feature[i]; f < 0 || f >= numFeatures {
			return regressionTree{}, fmt.Errorf("node %d splits on feature %d of %d", i, f, numFeatures)
		}
	}

	for i := n - 1; i >= 0; i-- {
		l, r := tree.left[i], tree.right[i]
		if l == -1 {
			tree.expected[i] = tree.threshold[i]
			continue
		}
		if cover := hess[l] + hess[r]; cover > 0 {
			tree.expected[i] = (hess[l]*tree.expected[l] + hess[r]*tree.expected[r]) / cover
		} else {
			tree.expected[i] = (tree.expected[l] + tree.expected[r]) / 2
		}
	}
	return tree, nil
}

// next returns the child taken at internal node i for input x.
func (t *regressionTree) next(i int, x []float64) int {
	v := x[t.feature[i]]
	if math.IsNaN(v) {
		if t.defaultLeft[i] {
			return t.left[i]
		}
		return t.right[i]
	}
	if v < t.threshold[i] {
		return t.left[i]
	}
	return t.right[i]
}

func (t *regressionTree) leaf(x []float64) float64 {
	i := 0
	for t.left[i] != -1 {
		i = t.next(i, x)
	}
	return t.threshold[i]
}

// NumFeatures implements Model.
func (e *TreeEnsemble) NumFeatures() int {
	return e.numFeatures
}

// NumTrees returns the number of boosted trees.
func (e *TreeEnsemble) NumTrees() int {
	return len(e.trees)
}

// Objective returns the training objective recorded in the model.
func (e *TreeEnsemble) Objective() string {
	return e.objective
}

// ExpectedValue returns the model output for an average input.
func (e *TreeEnsemble) ExpectedValue() float64 {
	return e.bias
}

// Predict implements Model.
func (e *TreeEnsemble) Predict(x []float64) (float64, error) {
	if len(x) != e.numFeatures {
		return 0, fmt.Errorf("%w: got %d features, model expects %d", ErrInference, len(x), e.numFeatures)
	}
	sum := e.baseScore
	for i := range e.trees {
		sum += e.trees[i].leaf(x)
	}
	return sum, nil
}

// Explain implements Explainer by walking each decision path and crediting
// every split with the change in expected subtree output it causes.
func (e *TreeEnsemble) Explain(x []float64) (Attribution, error) {
	if len(x) != e.numFeatures {
		return Attribution{}, fmt.Errorf("%w: got %d features, model expects %d", ErrInference, len(x), e.numFeatures)
	}
	contribs := make([]float64, e.numFeatures)
	for ti := range e.trees {
		t := &e.trees[ti]
		i := 0
		for t.left[i] != -1 {
			child := t.next(i, x)
			contribs[t.feature[i]] += t.expected[child] - t.expected[i]
			i = child
		}
	}
	return Attribution{Contributions: contribs, Bias: e.bias}, nil
}
