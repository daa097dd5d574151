// Package mltest builds small XGBoost models for tests.
package mltest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// Two trees over the car price columns:
//
//	tree 0: Year < 2016 ? 1000 : 3000
//	tree 1: Engine_Size < 1.9 ? -200 : (Mileage < 60000 ? 500 : 100)
//
// with base_score 10000.
const BaseScore = 10000

// Predict mirrors the fixture model in plain Go.
func Predict(year int, engineSize float64, mileage int) float64 {
	out := float64(BaseScore)
	if year < 2016 {
		out += 1000
	} else {
		out += 3000
	}
	switch {
	case engineSize < 1.9:
		out -= 200
	case mileage < 60000:
		out += 500
	default:
		out += 100
	}
	return out
}

type tree struct {
	ID              int       `json:"id"`
	LeftChildren    []int     `json:"left_children"`
	RightChildren   []int     `json:"right_children"`
	SplitIndices    []int     `json:"split_indices"`
	SplitConditions []float64 `json:"split_conditions"`
	DefaultLeft     []int     `json:"default_left"`
	SplitType       []int     `json:"split_type"`
	BaseWeights     []float64 `json:"base_weights"`
}

// XGBoostJSON renders the fixture as a Booster JSON document whose feature_names
// are names. names may be in any order but must contain Year, Engine_Size and
// Mileage; an empty names slice yields a booster without column metadata, in which
// case the natural record order is used for split indices.
func XGBoostJSON(t testing.TB, names []string, sklearn bool) []byte {
	t.Helper()
	order := names
	if len(order) == 0 {
		order = []string{"Brand", "Model", "Year", "Engine_Size", "Fuel_Type", "Transmission", "Mileage", "Doors", "Owner_Count"}
	}
	index := func(name string) int {
		for i, n := range order {
			if n == name {
				return i
			}
		}
		t.Fatalf("fixture column %s missing from %v", name, order)
		return -1
	}

	trees := []tree{
		{
			ID:              0,
			LeftChildren:    []int{1, -1, -1},
			RightChildren:   []int{2, -1, -1},
			SplitIndices:    []int{index("Year"), 0, 0},
			SplitConditions: []float64{2016, 1000, 3000},
			DefaultLeft:     []int{1, 0, 0},
			SplitType:       []int{0, 0, 0},
			BaseWeights:     []float64{0, 1000, 3000},
		},
		{
			ID:              1,
			LeftChildren:    []int{1, -1, 3, -1, -1},
			RightChildren:   []int{2, -1, 4, -1, -1},
			SplitIndices:    []int{index("Engine_Size"), 0, index("Mileage"), 0, 0},
			SplitConditions: []float64{1.9, -200, 60000, 500, 100},
			DefaultLeft:     []int{0, 0, 1, 0, 0},
			SplitType:       []int{0, 0, 0, 0, 0},
			BaseWeights:     []float64{0, -200, 0, 500, 100},
		},
	}

	attributes := map[string]string{}
	if sklearn {
		attributes["scikit_learn"] = `{"_estimator_type": "regressor"}`
	}
	featureNames := []string{}
	if len(names) > 0 {
		featureNames = names
	}

	doc := map[string]interface{}{
		"version": []int{1, 7, 6},
		"learner": map[string]interface{}{
			"attributes":    attributes,
			"feature_names": featureNames,
			"feature_types": []string{},
			"gradient_booster": map[string]interface{}{
				"name": "gbtree",
				"model": map[string]interface{}{
					"gbtree_model_param": map[string]string{"num_trees": "2", "size_leaf_vector": "0"},
					"trees":              trees,
					"tree_info":          []int{0, 0},
				},
			},
			"learner_model_param": map[string]string{
				"base_score":  "1E4",
				"num_class":   "0",
				"num_feature": "9",
				"num_target":  "1",
			},
			"objective": map[string]interface{}{
				"name":           "reg:squarederror",
				"reg_loss_param": map[string]string{"scale_pos_weight": "1"},
			},
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return data
}

// WriteXGBoostJSON writes the fixture into dir and returns its path.
func WriteXGBoostJSON(t testing.TB, dir string, names []string) string {
	t.Helper()
	path := filepath.Join(dir, "car_price_xgboost.json")
	if err := os.WriteFile(path, XGBoostJSON(t, names, false), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}
