package bus

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var topicSchemas = map[string]string{
	TopicClientList: `{
		"type": "object",
		"required": ["clients"],
		"properties": {
			"clients": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	TopicStorageLicensingUpdate: `{
		"type": "object",
		"required": ["isAuthorized"],
		"properties": {
			"isAuthorized": {"type": "boolean"},
			"userFriendlyStatus": {"type": "string"}
		}
	}`,
	TopicRPPLicensingUpdate: `{
		"type": "object",
		"required": ["isAuthorized"],
		"properties": {
			"isAuthorized": {"type": "boolean"}
		}
	}`,
	TopicLicensingUpdate: `{
		"type": "object",
		"required": ["isAuthorized"],
		"properties": {
			"isAuthorized": {"type": "boolean"},
			"userFriendlyStatus": {"type": "string"}
		}
	}`,
	TopicWatch: `{
		"type": "object",
		"required": ["filePath"],
		"properties": {
			"filePath": {"type": "string", "minLength": 1}
		}
	}`,
	TopicFileUpdate: `{
		"type": "object",
		"required": ["filePath", "status"],
		"properties": {
			"filePath": {"type": "string", "minLength": 1},
			"status": {"type": "string", "minLength": 1},
			"osurl": {"type": "string"},
			"ospath": {"type": "string"}
		}
	}`,
	TopicFileError: `{
		"type": "object",
		"required": ["filePath"],
		"properties": {
			"filePath": {"type": "string", "minLength": 1},
			"msg": {"type": "string"}
		}
	}`,
	TopicLog: `{
		"type": "object",
		"required": ["data"],
		"properties": {
			"data": {
				"type": "object",
				"required": ["projectName", "datasetName", "failedEntryFile", "table", "data"],
				"properties": {
					"projectName": {"type": "string", "minLength": 1},
					"datasetName": {"type": "string", "minLength": 1},
					"failedEntryFile": {"type": "string", "minLength": 1},
					"table": {"type": "string", "minLength": 1},
					"data": {
						"type": "object",
						"required": ["event"],
						"properties": {"event": {"type": "string", "minLength": 1}}
					}
				}
			}
		}
	}`,
}

var compiledSchemas = mustCompileTopicSchemas()

func mustCompileTopicSchemas() map[string]*jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	locations := make(map[string]string, len(topicSchemas))
	for topic, source := range topicSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
		if err != nil {
			panic(fmt.Sprintf("bus schema %s: %v", topic, err))
		}
		location := "mem://bus/" + strings.ToLower(topic) + ".json"
		if err := compiler.AddResource(location, doc); err != nil {
			panic(fmt.Sprintf("bus schema %s: %v", topic, err))
		}
		locations[NormalizeTopic(topic)] = location
	}
	compiled := make(map[string]*jsonschema.Schema, len(locations))
	for topic, location := range locations {
		compiled[topic] = compiler.MustCompile(location)
	}
	return compiled
}

// Validate checks the body of a message with a known topic against that
// topic's schema. Messages on other topics pass untouched.
func Validate(msg Message) error {
	schema, ok := compiledSchemas[NormalizeTopic(msg.Topic)]
	if !ok {
		return nil
	}
	if len(msg.Body) == 0 {
		return fmt.Errorf("%w: empty body for %s", ErrMalformedMessage, msg.Topic)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedMessage, msg.Topic, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedMessage, msg.Topic, err)
	}
	return nil
}

// DecodeValid validates msg and decodes it into v.
func DecodeValid(msg Message, v any) error {
	if err := Validate(msg); err != nil {
		return err
	}
	return msg.Decode(v)
}
