package config

import (
	"encoding/json"
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/stackitcloud-oss/ragctl/engine/domain"
)

// DecodeKwargs decodes a source's free-form KeyValuePair list (each value a
// JSON-encoded scalar, array or object) into a typed struct tagged with
// `mapstructure`, the way extractor-specific options (e.g. a Confluence
// space's crawl depth or label filter) are consumed without hand-rolled
// reflection.
func DecodeKwargs(kwargs []domain.KeyValuePair, out any) error {
	raw := make(map[string]any, len(kwargs))
	for _, kv := range kwargs {
		var v any
		if err := json.Unmarshal([]byte(kv.Value), &v); err != nil {
			return fmt.Errorf("config: decode kwarg %q: %w", kv.Key, err)
		}
		raw[kv.Key] = v
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("config: build kwargs decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("config: decode kwargs: %w", err)
	}
	return nil
}
