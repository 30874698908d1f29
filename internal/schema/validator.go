package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed social_post.schema.json
var socialPostSchemaJSON string

// SocialPost is one raw post as delivered by a feed endpoint. The field set
// mirrors what scraped pages actually return: a legacy single image field, a
// richer multi-image array, and an optional video URL.
type SocialPost struct {
	PostID   string         `json:"post_id"`
	Text     string         `json:"text"`
	Time     string         `json:"time,omitempty"`
	PostURL  *string        `json:"post_url,omitempty"`
	Image    *string        `json:"image,omitempty"`
	Images   []string       `json:"images,omitempty"`
	Video    *string        `json:"video,omitempty"`
	IsLive   *bool          `json:"is_live,omitempty"`
	Page     *string        `json:"page,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateSocialPostPayload parses and validates one raw post payload.
// A failure here is the caller's malformed-item signal: skip the post,
// keep the batch going.
func ValidateSocialPostPayload(payload json.RawMessage) (*SocialPost, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var post SocialPost
	if err := json.Unmarshal(normalized, &post); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&post); err != nil {
		return nil, err
	}

	return &post, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("social_post.schema.json", strings.NewReader(socialPostSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("social_post.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(post *SocialPost) error {
	if post == nil {
		return fmt.Errorf("payload is nil")
	}
	if strings.TrimSpace(post.PostID) == "" {
		return fmt.Errorf("post_id must not be empty")
	}
	if strings.TrimSpace(post.Text) == "" {
		return fmt.Errorf("text must not be empty")
	}
	return nil
}
