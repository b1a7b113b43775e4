package exports

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/f-sync/followback/internal/identity"
)

const (
	jsonArrayPattern                 = `(?s)\[.*\]`
	jsonObjectPattern                = `(?s)\{.*\}`
	containerSchemaLocation          = "export-container.json"
	entryTitleKey                    = "title"
	entryStringListKey               = "string_list_data"
	entryValueKey                    = "value"
	entryHrefKey                     = "href"
	entryTimestampKey                = "timestamp"
	statementTerminator              = ";"
	containerKeyFollowingIG          = "relationships_following"
	containerKeyFollowersIG          = "relationships_followers"
	containerKeyFollowing            = "following"
	containerKeyFollowers            = "followers"
	errMessageCompileContainerSchema = "compile export container schema"
)

// containerSchema accepts a bare entry array or an object exposing the entries under one of
// the known keys.
const containerSchema = `{
  "oneOf": [
    {"type": "array"},
    {
      "type": "object",
      "anyOf": [
        {"required": ["relationships_following"], "properties": {"relationships_following": {"type": "array"}}},
        {"required": ["relationships_followers"], "properties": {"relationships_followers": {"type": "array"}}},
        {"required": ["following"], "properties": {"following": {"type": "array"}}},
        {"required": ["followers"], "properties": {"followers": {"type": "array"}}}
      ]
    }
  ]
}`

var (
	reFirstArray  = regexp.MustCompile(jsonArrayPattern)
	reFirstObject = regexp.MustCompile(jsonObjectPattern)

	containerKeys = []string{
		containerKeyFollowingIG,
		containerKeyFollowersIG,
		containerKeyFollowing,
		containerKeyFollowers,
	}

	compiledContainerSchema = mustCompileContainerSchema()
)

// Document is an export file reduced to its relationship records.
type Document struct {
	Records   []identity.Record
	Malformed bool
}

// ParseDocument converts raw export bytes into records. A document that is not a recognized
// container shape yields no records and is marked malformed; it is never an error.
func ParseDocument(data []byte) Document {
	payload, instance, ok := decodeContainer(data)
	if !ok {
		return Document{Malformed: true}
	}
	if err := compiledContainerSchema.Validate(instance); err != nil {
		return Document{Malformed: true}
	}

	var container any
	if err := json.Unmarshal(payload, &container); err != nil {
		return Document{Malformed: true}
	}
	rawEntries := entriesFromContainer(container)
	records := make([]identity.Record, 0, len(rawEntries))
	for _, rawEntry := range rawEntries {
		entry, _ := rawEntry.(map[string]any)
		records = append(records, recordFromEntry(entry))
	}
	return Document{Records: records}
}

// decodeContainer finds the JSON payload in data, tolerating a JavaScript assignment wrapper,
// and decodes it for schema validation.
func decodeContainer(data []byte) ([]byte, any, bool) {
	trimmed := bytes.TrimSpace(data)
	if instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(trimmed)); err == nil {
		return trimmed, instance, true
	}
	for _, candidate := range [][]byte{reFirstArray.Find(trimmed), reFirstObject.Find(trimmed)} {
		if len(candidate) == 0 {
			continue
		}
		candidate = bytes.TrimSuffix(bytes.TrimSpace(candidate), []byte(statementTerminator))
		if instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(candidate)); err == nil {
			return candidate, instance, true
		}
	}
	return nil, nil, false
}

func entriesFromContainer(container any) []any {
	switch typed := container.(type) {
	case []any:
		return typed
	case map[string]any:
		for _, key := range containerKeys {
			if entries, ok := typed[key].([]any); ok {
				return entries
			}
		}
	}
	return nil
}

func recordFromEntry(entry map[string]any) identity.Record {
	if entry == nil {
		return identity.Record{}
	}
	record := identity.Record{Title: stringValueForKey(entry, entryTitleKey)}
	listData, _ := entry[entryStringListKey].([]any)
	if len(listData) == 0 {
		return record
	}
	firstItem, _ := listData[0].(map[string]any)
	if firstItem == nil {
		return record
	}
	record.Value = stringValueForKey(firstItem, entryValueKey)
	record.Href = stringValueForKey(firstItem, entryHrefKey)
	record.Timestamp = int64ValueForKey(firstItem, entryTimestampKey)
	return record
}

func stringValueForKey(data map[string]any, key string) string {
	if value, ok := data[key]; ok {
		if str, ok2 := value.(string); ok2 {
			return str
		}
	}
	return ""
}

func int64ValueForKey(data map[string]any, key string) int64 {
	switch value := data[key].(type) {
	case float64:
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return 0
		}
		return int64(value)
	case string:
		if integer, err := json.Number(strings.TrimSpace(value)).Int64(); err == nil {
			return integer
		}
	}
	return 0
}

func mustCompileContainerSchema() *jsonschema.Schema {
	schemaDocument, err := jsonschema.UnmarshalJSON(strings.NewReader(containerSchema))
	if err != nil {
		panic(errMessageCompileContainerSchema + ": " + err.Error())
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(containerSchemaLocation, schemaDocument); err != nil {
		panic(errMessageCompileContainerSchema + ": " + err.Error())
	}
	schema, err := compiler.Compile(containerSchemaLocation)
	if err != nil {
		panic(errMessageCompileContainerSchema + ": " + err.Error())
	}
	return schema
}
