package http

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strings"

	"carprice/category"
	"carprice/ml"
)

//go:embed templates/*.html
var templateFS embed.FS

var homeTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type formField struct {
	Name    string
	Label   string
	Step    string
	Options []category.Option
}

type homePage struct {
	Ready      bool
	Fields     []formField
	Prediction string
}

// homeFields lists the form inputs in model column order. Categorical columns
// become selects when the mapping has values for them.
func homeFields(m *category.Mapping) []formField {
	fields := make([]formField, 0, len(ml.FeatureNames))
	for _, name := range ml.FeatureNames {
		f := formField{Name: name, Label: strings.ReplaceAll(name, "_", " "), Step: "1"}
		if name == ml.FeatureEngineSize {
			f.Step = "any"
		}
		if m.Len(name) > 0 {
			f.Options = m.Options(name)
		}
		fields = append(fields, f)
	}
	return fields
}

func renderHome(w http.ResponseWriter, page homePage) error {
	var buf bytes.Buffer
	if err := homeTemplate.Execute(&buf, page); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err := buf.WriteTo(w)
	return err
}
