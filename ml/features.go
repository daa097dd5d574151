package ml

import (
	"strconv"
	"strings"
)

// Feature column names as the model was trained on them.
const (
	FeatureBrand        = "Brand"
	FeatureModel        = "Model"
	FeatureYear         = "Year"
	FeatureEngineSize   = "Engine_Size"
	FeatureFuelType     = "Fuel_Type"
	FeatureTransmission = "Transmission"
	FeatureMileage      = "Mileage"
	FeatureDoors        = "Doors"
	FeatureOwnerCount   = "Owner_Count"
)

// FeatureNames is the natural field order of a FeatureRecord.
var FeatureNames = []string{
	FeatureBrand,
	FeatureModel,
	FeatureYear,
	FeatureEngineSize,
	FeatureFuelType,
	FeatureTransmission,
	FeatureMileage,
	FeatureDoors,
	FeatureOwnerCount,
}

// FeatureRecord is one row of model input. Categorical fields hold category codes.
type FeatureRecord struct {
	Brand        int     `json:"Brand"`
	Model        int     `json:"Model"`
	Year         int     `json:"Year"`
	EngineSize   float64 `json:"Engine_Size"`
	FuelType     int     `json:"Fuel_Type"`
	Transmission int     `json:"Transmission"`
	Mileage      int     `json:"Mileage"`
	Doors        int     `json:"Doors"`
	OwnerCount   int     `json:"Owner_Count"`
}

// Value returns the field called name.
func (r FeatureRecord) Value(name string) (float64, bool) {
	switch name {
	case FeatureBrand:
		return float64(r.Brand), true
	case FeatureModel:
		return float64(r.Model), true
	case FeatureYear:
		return float64(r.Year), true
	case FeatureEngineSize:
		return r.EngineSize, true
	case FeatureFuelType:
		return float64(r.FuelType), true
	case FeatureTransmission:
		return float64(r.Transmission), true
	case FeatureMileage:
		return float64(r.Mileage), true
	case FeatureDoors:
		return float64(r.Doors), true
	case FeatureOwnerCount:
		return float64(r.OwnerCount), true
	}
	return 0, false
}

// Vector returns the fields in FeatureNames order.
func (r FeatureRecord) Vector() []float64 {
	vec := make([]float64, len(FeatureNames))
	for i, name := range FeatureNames {
		vec[i], _ = r.Value(name)
	}
	return vec
}

// Key identifies the record by its values, in FeatureNames order.
func (r FeatureRecord) Key() string {
	var b strings.Builder
	for i, v := range r.Vector() {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return b.String()
}
