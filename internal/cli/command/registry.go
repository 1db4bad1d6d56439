package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "submit",
			Action:       "create",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions",
			RequiresUser: true,
			Fields: []Field{
				{Name: "round_id", Aliases: []string{"round"}, Prompt: "round_id", Type: FieldInt64, Required: true},
				{Name: "task_id", Aliases: []string{"task"}, Prompt: "task_id", Type: FieldInt64, Required: true},
				{Name: "source", Prompt: "source", Type: FieldString, Required: false},
				{Name: "source_file", Aliases: []string{"file"}, Prompt: "source_file", Type: FieldFile, Required: false},
			},
		},
		{
			Service:      "submit",
			Action:       "status",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id",
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "ranking",
			Action:       "get",
			Method:       "GET",
			PathTemplate: "/api/v1/rounds/:id/ranking",
			Fields: []Field{
				{Name: "id", Aliases: []string{"round_id", "round"}, Prompt: "round_id", Type: FieldInt64, Required: true},
				{Name: "source", Prompt: "source (table|compute)", Type: FieldString, Query: true},
			},
		},
		{
			Service:      "ranking",
			Action:       "rebuild",
			Method:       "POST",
			PathTemplate: "/api/v1/rounds/:id/ranking/rebuild",
			RequiresUser: true,
			Fields: []Field{
				{Name: "id", Aliases: []string{"round_id", "round"}, Prompt: "round_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "queue",
			Action:       "stats",
			Method:       "GET",
			PathTemplate: "/api/v1/queue/stats",
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		key := fmt.Sprintf("%s %s", cmd.Service, cmd.Action)
		result[key] = cmd
	}
	return result
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	if err := validateFields(cmd.Fields, params); err != nil {
		return RequestSpec{}, err
	}
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}
	query := url.Values{}
	for _, field := range cmd.Fields {
		if field.Query && params.Get(field.Name) != "" {
			query.Set(field.Name, params.Get(field.Name))
		}
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

func validateFields(fields []Field, params Params) error {
	for _, field := range fields {
		value := params.Get(field.Name)
		if value == "" {
			continue
		}
		if field.Type == FieldInt64 {
			n, err := ParseInt64(value)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid %s: %q", field.Name, value)
			}
		}
	}
	return nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	if strings.Contains(path, ":id") {
		value := params.Get("id")
		if value == "" {
			return "", fmt.Errorf("missing path parameter: id")
		}
		path = strings.ReplaceAll(path, ":id", url.PathEscape(value))
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	if cmd.Service == "submit" && cmd.Action == "create" {
		return buildSubmitCreatePayload(params)
	}
	return nil, nil
}

func buildSubmitCreatePayload(params Params) (interface{}, error) {
	roundID, err := ParseInt64(params.Get("round_id"))
	if err != nil {
		return nil, fmt.Errorf("invalid round_id: %w", err)
	}
	taskID, err := ParseInt64(params.Get("task_id"))
	if err != nil {
		return nil, fmt.Errorf("invalid task_id: %w", err)
	}

	source := params.Get("source")
	if (source == "" || source == "_file_") && params.Get("source_file") != "" {
		source, err = ReadFile(params.Get("source_file"))
		if err != nil {
			return nil, err
		}
	}
	if source == "_file_" {
		source = ""
	}

	payload := map[string]interface{}{
		"round_id": roundID,
		"task_id":  taskID,
	}
	if source != "" {
		payload["source"] = source
	}
	return payload, nil
}
