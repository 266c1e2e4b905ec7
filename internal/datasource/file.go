// Package datasource serves market and wallet rows to data-source nodes.
package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mukhametgalin/predict-trading-system/workflow-engine/internal/types"
)

// Source returns rows for a named source, narrowed by equality filters.
type Source interface {
	Query(ctx context.Context, source string, filters map[string]interface{}) ([]types.Record, error)
}

// FileSource reads <dir>/<source>.yaml, .yml or .json. Each file holds a
// list of rows, or an object whose "records" key holds the list.
type FileSource struct {
	dir string

	mu    sync.Mutex
	cache map[string]cached
}

type cached struct {
	modTime int64
	rows    []types.Record
}

func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir, cache: make(map[string]cached)}
}

var extensions = []string{".yaml", ".yml", ".json"}

func (s *FileSource) Query(ctx context.Context, source string, filters map[string]interface{}) ([]types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if source == "" || strings.ContainsAny(source, `/\`) || strings.Contains(source, "..") {
		return nil, fmt.Errorf("invalid source name %q", source)
	}

	rows, err := s.load(source)
	if err != nil {
		return nil, err
	}

	out := make([]types.Record, 0, len(rows))
	for _, r := range rows {
		if matches(r, filters) {
			out = append(out, r.Clone())
		}
	}

	log.Debug().Str("source", source).Int("rows", len(rows)).Int("matched", len(out)).Msg("Data source queried")
	return out, nil
}

func (s *FileSource) load(source string) ([]types.Record, error) {
	for _, ext := range extensions {
		path := filepath.Join(s.dir, source+ext)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		s.mu.Lock()
		c, ok := s.cache[path]
		s.mu.Unlock()
		if ok && c.modTime == info.ModTime().UnixNano() {
			return c.rows, nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read source %s: %w", source, err)
		}
		rows, err := decode(data, ext)
		if err != nil {
			return nil, fmt.Errorf("parse source %s: %w", source, err)
		}

		s.mu.Lock()
		s.cache[path] = cached{modTime: info.ModTime().UnixNano(), rows: rows}
		s.mu.Unlock()
		return rows, nil
	}
	return nil, fmt.Errorf("unknown source %q in %s", source, s.dir)
}

func decode(data []byte, ext string) ([]types.Record, error) {
	var doc interface{}
	if ext == ".json" {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	}
	if m, ok := doc.(map[string]interface{}); ok {
		if records, ok := m["records"]; ok {
			doc = records
		}
	}
	return types.ToRecords(doc), nil
}

func matches(r types.Record, filters map[string]interface{}) bool {
	for field, want := range filters {
		got, ok := r.Get(field)
		if !ok {
			return false
		}
		if list, isList := want.([]interface{}); isList {
			found := false
			for _, w := range list {
				if types.Equal(got, w) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if !types.Equal(got, want) {
			return false
		}
	}
	return true
}
