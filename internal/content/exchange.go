package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/sqb-ai/istudy/internal/domain"
)

// ErrInvalidImport is returned when an uploaded content file does not match
// the expected shape.
var ErrInvalidImport = errors.New("invalid content file")

// ImportFailedMessage is shown to the admin when an import is rejected.
const ImportFailedMessage = "Ошибка импорта: неверный формат файла"

const contentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "required": ["title", "content"],
    "properties": {
      "title":   {"type": "string"},
      "content": {"type": "string"},
      "test": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["question", "options", "correctAnswer"],
          "properties": {
            "question":      {"type": "string", "minLength": 1},
            "options":       {"type": "array", "items": {"type": "string"}, "minItems": 4, "maxItems": 4},
            "correctAnswer": {"type": "integer", "minimum": 0, "maximum": 3}
          }
        }
      }
    }
  }
}`

var loadSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(contentSchema))
})

// ImportResult reports what an import did.
type ImportResult struct {
	Imported int
	Skipped  []string // lesson ids not in the catalog
}

// ExportJSON writes the whole lesson-content map as indented JSON.
func (r *Repository) ExportJSON(ctx context.Context, w io.Writer) error {
	c, err := r.allContent(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	return nil
}

// ImportJSON merges an exported content map into the store. The file is
// checked against the content schema first; entries whose lesson id is not in
// the catalog are skipped.
func (r *Repository) ImportJSON(ctx context.Context, src io.Reader) (ImportResult, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return ImportResult{}, fmt.Errorf("read import: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return ImportResult{}, fmt.Errorf("compile content schema: %w", err)
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return ImportResult{}, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if !res.Valid() {
		problems := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			problems = append(problems, e.String())
		}
		return ImportResult{}, fmt.Errorf("%w: %s", ErrInvalidImport, strings.Join(problems, "; "))
	}

	var incoming map[string]domain.ContentRecord
	if err := json.Unmarshal(data, &incoming); err != nil {
		return ImportResult{}, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	modules, err := r.Modules(ctx)
	if err != nil {
		return ImportResult{}, err
	}

	var result ImportResult
	err = r.updateContent(ctx, func(c map[string]domain.ContentRecord) {
		for id, rec := range incoming {
			if _, _, ok := findLesson(modules, id); !ok {
				result.Skipped = append(result.Skipped, id)
				continue
			}
			c[id] = rec
			result.Imported++
		}
	})
	if err != nil {
		return ImportResult{}, err
	}
	sort.Strings(result.Skipped)

	slog.Info("content imported", "imported", result.Imported, "skipped", len(result.Skipped))
	return result, nil
}
