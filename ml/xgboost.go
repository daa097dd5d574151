package ml

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// XGBoost JSON as written by Booster.save_model / XGBRegressor.save_model.
type xgbDocument struct {
	Learner struct {
		Attributes        map[string]string `json:"attributes"`
		FeatureNames      []string          `json:"feature_names"`
		FeatureTypes      []string          `json:"feature_types"`
		GradientBooster   xgbBooster        `json:"gradient_booster"`
		LearnerModelParam struct {
			BaseScore  string `json:"base_score"`
			NumClass   string `json:"num_class"`
			NumFeature string `json:"num_feature"`
			NumTarget  string `json:"num_target"`
		} `json:"learner_model_param"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
	} `json:"learner"`
	Version []int `json:"version"`
}

type xgbBooster struct {
	Name       string      `json:"name"`
	Model      *xgbTreeSet `json:"model"`
	GBTree     *xgbBooster `json:"gbtree"`
	WeightDrop []float64   `json:"weight_drop"`
}

type xgbTreeSet struct {
	Trees    []xgbTree `json:"trees"`
	TreeInfo []int     `json:"tree_info"`
}

type xgbTree struct {
	ID              int       `json:"id"`
	LeftChildren    []int     `json:"left_children"`
	RightChildren   []int     `json:"right_children"`
	SplitIndices    []int     `json:"split_indices"`
	SplitConditions []float64 `json:"split_conditions"`
	DefaultLeft     flagList  `json:"default_left"`
	SplitType       []int     `json:"split_type"`
}

// flagList decodes default_left, which older writers emit as 0/1 and newer ones as
// booleans.
type flagList []bool

func (f *flagList) UnmarshalJSON(data []byte) error {
	var bools []bool
	if err := json.Unmarshal(data, &bools); err == nil {
		*f = bools
		return nil
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return fmt.Errorf("default_left: %w", err)
	}
	out := make([]bool, len(ints))
	for i, v := range ints {
		out[i] = v != 0
	}
	*f = out
	return nil
}

// XGBoostInfo describes a parsed XGBoost document.
type XGBoostInfo struct {
	// Wrapper is "sklearn" when the file came from the scikit-learn estimator,
	// "booster" otherwise.
	Wrapper      string
	Booster      string
	Version      string
	FeatureNames []string
}

// ParseXGBoostJSON converts an XGBoost JSON model into an Ensemble. Structures the
// evaluator cannot reproduce are reported with ErrUnsupportedModel.
func ParseXGBoostJSON(data []byte) (*Ensemble, XGBoostInfo, error) {
	var doc xgbDocument
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, XGBoostInfo{}, fmt.Errorf("decode xgboost json: %w", err)
	}

	learner := doc.Learner
	info := XGBoostInfo{
		Wrapper:      "booster",
		Booster:      learner.GradientBooster.Name,
		FeatureNames: learner.FeatureNames,
		Version:      joinVersion(doc.Version),
	}
	if _, ok := learner.Attributes["scikit_learn"]; ok {
		info.Wrapper = "sklearn"
	}
	if info.Booster == "" {
		return nil, info, errors.New("xgboost json: no gradient_booster, not a model file")
	}

	if n, err := parseParam(learner.LearnerModelParam.NumClass); err != nil {
		return nil, info, fmt.Errorf("num_class: %w", err)
	} else if n > 1 {
		return nil, info, fmt.Errorf("num_class %d: %w", n, ErrUnsupportedModel)
	}
	if n, err := parseParam(learner.LearnerModelParam.NumTarget); err != nil {
		return nil, info, fmt.Errorf("num_target: %w", err)
	} else if n > 1 {
		return nil, info, fmt.Errorf("num_target %d: %w", n, ErrUnsupportedModel)
	}
	numFeature, err := parseParam(learner.LearnerModelParam.NumFeature)
	if err != nil {
		return nil, info, fmt.Errorf("num_feature: %w", err)
	}
	if len(learner.FeatureNames) > 0 && numFeature > 0 && len(learner.FeatureNames) != numFeature {
		return nil, info, fmt.Errorf("xgboost json: %d feature names for %d features", len(learner.FeatureNames), numFeature)
	}
	for i, typ := range learner.FeatureTypes {
		if typ == "c" {
			return nil, info, fmt.Errorf("feature %d is categorical: %w", i, ErrUnsupportedModel)
		}
	}
	baseScore, err := parseBaseScore(learner.LearnerModelParam.BaseScore)
	if err != nil {
		return nil, info, err
	}

	var set *xgbTreeSet
	var weights []float64
	switch learner.GradientBooster.Name {
	case "gbtree":
		set = learner.GradientBooster.Model
	case "dart":
		if learner.GradientBooster.GBTree != nil {
			set = learner.GradientBooster.GBTree.Model
		}
		weights = learner.GradientBooster.WeightDrop
	default:
		return nil, info, fmt.Errorf("booster %q: %w", learner.GradientBooster.Name, ErrUnsupportedModel)
	}
	if set == nil || len(set.Trees) == 0 {
		return nil, info, errors.New("xgboost json: model has no trees")
	}
	if weights != nil && len(weights) != len(set.Trees) {
		return nil, info, fmt.Errorf("xgboost json: %d dart weights for %d trees", len(weights), len(set.Trees))
	}
	for i, group := range set.TreeInfo {
		if group != 0 {
			return nil, info, fmt.Errorf("tree %d belongs to output group %d: %w", i, group, ErrUnsupportedModel)
		}
	}

	ensemble := &Ensemble{
		Trees:      make([]RegressionTree, len(set.Trees)),
		BaseScore:  baseScore,
		Objective:  learner.Objective.Name,
		NumFeature: numFeature,
	}
	for i, tree := range set.Trees {
		converted, err := convertTree(tree)
		if err != nil {
			return nil, info, fmt.Errorf("tree %d: %w", i, err)
		}
		converted.Weight = 1
		if weights != nil {
			converted.Weight = float32(weights[i])
		}
		ensemble.Trees[i] = converted
	}
	if err := ensemble.Validate(); err != nil {
		return nil, info, err
	}
	return ensemble, info, nil
}

func convertTree(tree xgbTree) (RegressionTree, error) {
	n := len(tree.LeftChildren)
	if n == 0 {
		return RegressionTree{}, errors.New("no nodes")
	}
	if len(tree.RightChildren) != n || len(tree.SplitIndices) != n ||
		len(tree.SplitConditions) != n || len(tree.DefaultLeft) != n {
		return RegressionTree{}, errors.New("node arrays differ in length")
	}
	for _, typ := range tree.SplitType {
		if typ != 0 {
			return RegressionTree{}, fmt.Errorf("categorical split: %w", ErrUnsupportedModel)
		}
	}

	nodes := make([]TreeNode, n)
	for i := 0; i < n; i++ {
		if tree.LeftChildren[i] == -1 {
			// leaves keep their value in split_conditions
			nodes[i] = TreeNode{
				FeatureIdx: -1,
				LeftChild:  -1,
				RightChild: -1,
				Value:      float32(tree.SplitConditions[i]),
				IsLeaf:     true,
			}
			continue
		}
		nodes[i] = TreeNode{
			FeatureIdx:  tree.SplitIndices[i],
			Threshold:   float32(tree.SplitConditions[i]),
			LeftChild:   tree.LeftChildren[i],
			RightChild:  tree.RightChildren[i],
			DefaultLeft: tree.DefaultLeft[i],
		}
	}
	return RegressionTree{Nodes: nodes}, nil
}

func parseParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// parseBaseScore accepts "5E-1" and the vector form "[5E-1]" written since 3.0.
func parseBaseScore(s string) (float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0.5, nil
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		parts := strings.Split(strings.Trim(s, "[]"), ",")
		if len(parts) != 1 {
			return 0, fmt.Errorf("base_score %s: %w", s, ErrUnsupportedModel)
		}
		s = strings.TrimSpace(parts[0])
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, fmt.Errorf("base_score %q: %w", s, err)
	}
	return float32(v), nil
}

func joinVersion(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// LoadXGBoostJSON reads a native XGBoost JSON model file.
func LoadXGBoostJSON(path string) (*Ensemble, XGBoostInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, XGBoostInfo{}, err
	}
	return ParseXGBoostJSON(data)
}
