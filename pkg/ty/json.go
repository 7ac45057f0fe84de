package ty

import (
	"encoding/json"
)

// ToJSONString converts data to a JSON string.
func ToJSONString(data any) (string, error) {
	bytes, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
