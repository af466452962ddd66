package util

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

const mask = "***"

// RedactConfig masks every value so device config can be logged by shape only.
func RedactConfig(cfg map[string]string) map[string]string {
	out := make(map[string]string, len(cfg))
	for k, v := range cfg {
		if strings.TrimSpace(v) == "" {
			out[k] = ""
			continue
		}
		out[k] = mask
	}
	return out
}

// ConfigKeys returns the sorted key names of a device config.
func ConfigKeys(cfg map[string]string) []string {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ConfigShape is a zerolog object marshaler that emits config key names and masked values.
type ConfigShape map[string]string

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (c ConfigShape) MarshalZerologObject(e *zerolog.Event) {
	red := RedactConfig(c)
	for _, k := range ConfigKeys(red) {
		e.Str(k, red[k])
	}
}
