package predict

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carprice/category"
	"carprice/ml"
)

func TestParseFormValid(t *testing.T) {
	record, err := ParseForm(validForm(), nil)
	require.NoError(t, err)
	assert.Equal(t, ml.FeatureRecord{
		Brand: 0, Model: 2, Year: 2015, EngineSize: 2.0, FuelType: 1,
		Transmission: 0, Mileage: 50000, Doors: 4, OwnerCount: 1,
	}, record)
}

func TestParseFormRejectsNonNumeric(t *testing.T) {
	form := validForm()
	form.Set("Engine_Size", "abc")

	_, err := ParseForm(form, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadInput))

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "Engine_Size", pe.Field)
	assert.Contains(t, err.Error(), `Engine_Size: invalid number "abc"`)
}

func TestParseFormReportsEveryBadField(t *testing.T) {
	form := validForm()
	form.Del("Doors")
	form.Set("Year", "2015.5")
	form.Set("Engine_Size", "NaN")

	_, err := ParseForm(form, nil)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "Year")
	assert.Contains(t, msg, "Engine_Size")
	assert.Contains(t, msg, "Doors: field is required")

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "Year", pe.Field)
}

func TestParseFormAcceptsLabels(t *testing.T) {
	m := sampleMapping(t)
	form := validForm()
	form.Set("Brand", "Ford")
	form.Set("Fuel_Type", "Diesel")
	form.Set("Transmission", " Automatic ")

	record, err := ParseForm(form, m)
	require.NoError(t, err)
	assert.Equal(t, 2, record.Brand)
	assert.Equal(t, 1, record.FuelType)
	assert.Equal(t, 1, record.Transmission)

	form.Set("Brand", "Tesla")
	_, err = ParseForm(form, m)
	require.Error(t, err)
	assert.True(t, errors.Is(err, category.ErrUnknownValue))
}

func TestParseFormNumericLabelBeatsCode(t *testing.T) {
	const csv = `Brand,Model,Year,Engine_Size,Fuel_Type,Transmission,Mileage,Doors,Owner_Count,Price
Toyota,9,2015,1.8,Petrol,Manual,50000,4,1,9000
Toyota,3,2018,2.0,Diesel,Automatic,30000,4,2,12000
Honda,Civic,2012,2.5,Petrol,Automatic,90000,4,3,7000
`
	rows, err := category.ReadDataset(strings.NewReader(csv), "")
	require.NoError(t, err)
	m, err := category.Build(rows)
	require.NoError(t, err)

	form := validForm()
	for value, want := range map[string]int{"3": 1, "9": 0, "Civic": 2, "2": 2} {
		form.Set("Model", value)
		record, err := ParseForm(form, m)
		require.NoError(t, err, value)
		assert.Equal(t, want, record.Model, value)
	}
}

func TestParseFormLabelWithoutMapping(t *testing.T) {
	form := validForm()
	form.Set("Brand", "Toyota")
	_, err := ParseForm(form, category.Empty())
	assert.True(t, errors.Is(err, ErrBadInput))
}

func TestParseJSON(t *testing.T) {
	body := `{"Brand": 0, "Model": "2", "Year": 2015, "Engine_Size": 2.0, "Fuel_Type": 1,
		"Transmission": 0, "Mileage": 50000, "Doors": 4, "Owner_Count": 1}`
	record, err := ParseJSON(strings.NewReader(body), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, record.Model)
	assert.Equal(t, 2.0, record.EngineSize)

	_, err = ParseJSON(strings.NewReader(`{"Brand": [1]}`), nil)
	assert.True(t, errors.Is(err, ErrBadInput))

	_, err = ParseJSON(strings.NewReader(`{`), nil)
	assert.True(t, errors.Is(err, ErrBadInput))
}
