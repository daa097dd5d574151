package category

// Build assigns codes by first occurrence, scanning rows in order. The same rows
// always produce the same mapping.
func Build(rows []*Row) (*Mapping, error) {
	m := Empty()
	for _, row := range rows {
		for _, name := range Columns {
			value, err := row.Value(name)
			if err != nil {
				return nil, err
			}
			m.columns[name].add(value)
		}
	}
	return m, nil
}

// BuildFromFile reads the dataset at path and builds its mapping.
func BuildFromFile(path, charset string) (*Mapping, error) {
	rows, err := ReadDatasetFile(path, charset)
	if err != nil {
		return nil, err
	}
	return Build(rows)
}
