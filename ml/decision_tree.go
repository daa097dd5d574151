package ml

import (
	"errors"
	"fmt"
	"math"
)

// Objectives the ensemble knows how to turn a margin into a prediction for.
const (
	linkIdentity = iota
	linkLogistic
	linkExp
)

var objectiveLinks = map[string]int{
	"reg:squarederror":     linkIdentity,
	"reg:linear":           linkIdentity,
	"reg:absoluteerror":    linkIdentity,
	"reg:pseudohubererror": linkIdentity,
	"reg:quantileerror":    linkIdentity,
	"reg:squaredlogerror":  linkIdentity,
	"reg:logistic":         linkLogistic,
	"binary:logistic":      linkLogistic,
	"count:poisson":        linkExp,
	"reg:gamma":            linkExp,
	"reg:tweedie":          linkExp,
}

// TreeNode is one node of a regression tree stored as a flat array. Non-leaf nodes
// send a sample left when its feature value is below Threshold; missing values
// follow DefaultLeft.
type TreeNode struct {
	FeatureIdx  int     `json:"feature_idx"`
	Threshold   float32 `json:"threshold"`
	LeftChild   int     `json:"left_child"`
	RightChild  int     `json:"right_child"`
	Value       float32 `json:"value"`
	IsLeaf      bool    `json:"is_leaf"`
	DefaultLeft bool    `json:"default_left"`
}

type RegressionTree struct {
	Nodes  []TreeNode `json:"nodes"`
	Weight float32    `json:"weight"`
}

// Ensemble is an additive set of regression trees with a base margin and an
// output link.
type Ensemble struct {
	Trees      []RegressionTree `json:"trees"`
	BaseScore  float32          `json:"base_score"`
	Objective  string           `json:"objective"`
	NumFeature int              `json:"num_feature"`
}

// Validate checks node indices and the objective so that Predict cannot walk out of
// a tree.
func (e *Ensemble) Validate() error {
	if e == nil || len(e.Trees) == 0 {
		return errors.New("ensemble has no trees")
	}
	if _, ok := objectiveLinks[e.Objective]; !ok {
		return fmt.Errorf("objective %q: %w", e.Objective, ErrUnsupportedModel)
	}
	if _, err := e.baseMargin(); err != nil {
		return err
	}
	for t, tree := range e.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", t)
		}
		for i, node := range tree.Nodes {
			if node.IsLeaf {
				continue
			}
			if node.FeatureIdx < 0 || (e.NumFeature > 0 && node.FeatureIdx >= e.NumFeature) {
				return fmt.Errorf("tree %d node %d: feature index %d out of range", t, i, node.FeatureIdx)
			}
			if node.LeftChild < 0 || node.LeftChild >= len(tree.Nodes) || node.LeftChild == i ||
				node.RightChild < 0 || node.RightChild >= len(tree.Nodes) || node.RightChild == i {
				return fmt.Errorf("tree %d node %d: invalid children %d/%d", t, i, node.LeftChild, node.RightChild)
			}
		}
	}
	return nil
}

func (e *Ensemble) baseMargin() (float32, error) {
	switch objectiveLinks[e.Objective] {
	case linkLogistic:
		if e.BaseScore <= 0 || e.BaseScore >= 1 {
			return 0, fmt.Errorf("base_score %v outside (0, 1) for %s", e.BaseScore, e.Objective)
		}
		return float32(-math.Log(1/float64(e.BaseScore) - 1)), nil
	case linkExp:
		if e.BaseScore <= 0 {
			return 0, fmt.Errorf("base_score %v must be positive for %s", e.BaseScore, e.Objective)
		}
		return float32(math.Log(float64(e.BaseScore))), nil
	}
	return e.BaseScore, nil
}

// Predict evaluates the ensemble on features given in training column order.
// Inputs are compared as float32 and leaf values are accumulated in float32.
func (e *Ensemble) Predict(features []float64) (float64, error) {
	if len(e.Trees) == 0 {
		return 0, errors.New("model not trained")
	}
	margin, err := e.baseMargin()
	if err != nil {
		return 0, err
	}
	for t := range e.Trees {
		leaf, err := e.Trees[t].leaf(features)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", t, err)
		}
		margin += e.Trees[t].Weight * leaf
	}

	switch objectiveLinks[e.Objective] {
	case linkLogistic:
		return 1 / (1 + math.Exp(-float64(margin))), nil
	case linkExp:
		return math.Exp(float64(margin)), nil
	}
	return float64(margin), nil
}

func (tree *RegressionTree) leaf(features []float64) (float32, error) {
	idx := 0
	// a walk visits each node at most once unless the tree has a cycle
	for steps := 0; steps <= len(tree.Nodes); steps++ {
		node := tree.Nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		v := features[node.FeatureIdx]
		switch {
		case math.IsNaN(v):
			if node.DefaultLeft {
				idx = node.LeftChild
			} else {
				idx = node.RightChild
			}
		case float32(v) < node.Threshold:
			idx = node.LeftChild
		default:
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(tree.Nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
	return 0, errors.New("invalid tree state")
}
