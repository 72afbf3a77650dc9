package controller

import "encoding/json"

// jsonUnmarshalBestEffort decodes body into v, ignoring a decode failure —
// an error body that isn't the expected shape is treated as "no code",
// which doWithRefresh already handles by falling through to ErrUnauthorized.
func jsonUnmarshalBestEffort(body []byte, v any) error {
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}
