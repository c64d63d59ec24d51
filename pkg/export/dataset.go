package export

// Dataset defines tabular export content.
type Dataset struct {
	Title string
	// Meta lines are printed under the title of rendered documents.
	Meta    []string
	Headers []string
	Rows    []map[string]string
	// Footer is an optional summary row keyed like Rows.
	Footer map[string]string
	// Numeric lists the headers whose cells are right aligned.
	Numeric []string
}

func (d Dataset) record(row map[string]string) []string {
	record := make([]string, len(d.Headers))
	for i, header := range d.Headers {
		record[i] = row[header]
	}
	return record
}

func (d Dataset) isNumeric(header string) bool {
	for _, h := range d.Numeric {
		if h == header {
			return true
		}
	}
	return false
}
