package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v6"
)

// Catalog 列出可供 Agent 使用的工具，Registry 实现它
type Catalog interface {
	List() []Descriptor
}

var schemaReflector = &jsonschema.Reflector{
	Anonymous:      true,
	ExpandedStruct: true,
	DoNotReference: true,
}

// SchemaFor 由输入结构体 T 的 json/jsonschema tag 生成输入 JSON Schema，
// 作为 ToolMetadata.Schema 渲染进提示词。
func SchemaFor[T any]() json.RawMessage {
	s := schemaReflector.Reflect(new(T))
	s.Version = ""
	raw, err := json.Marshal(s)
	if err != nil {
		panic("tools: schema for input type: " + err.Error())
	}
	return raw
}

// compileSchema 编译输入 schema，注册时调用一次
func compileSchema(tool string, raw json.RawMessage) (*validator.Schema, error) {
	doc, err := validator.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("tool %s: schema is not valid JSON: %w", tool, err)
	}
	url := tool + ".schema.json"
	c := validator.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("tool %s: %w", tool, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tool %s: invalid schema: %w", tool, err)
	}
	return compiled, nil
}

// validateInput 空输入按 {} 校验
func validateInput(s *validator.Schema, input json.RawMessage) error {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	v, err := validator.UnmarshalJSON(bytes.NewReader(input))
	if err != nil {
		return err
	}
	return s.Validate(v)
}
