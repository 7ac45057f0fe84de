package printer

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/TylerBrock/colorjson"

	"github.com/bascanada/epidata/pkg/table"
)

// WriteJSON writes one JSON object per row. Objects are colored when the
// color state is enabled.
func WriteJSON(w io.Writer, t *table.Table) error {
	if !IsColorEnabled() {
		encoder := json.NewEncoder(w)
		for _, row := range t.Rows {
			if err := encoder.Encode(row); err != nil {
				return err
			}
		}
		return nil
	}

	f := colorjson.NewFormatter()
	f.Indent = 0
	for _, row := range t.Rows {
		// colorjson only knows the plain JSON types
		var plain map[string]interface{}
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &plain); err != nil {
			return err
		}
		s, err := f.Marshal(plain)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, string(s)); err != nil {
			return err
		}
	}
	return nil
}
