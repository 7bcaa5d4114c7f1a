package workflow

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kode4food/marionette/pkg/api"
)

var (
	ErrLoopSource      = errors.New("loop source not found")
	ErrNotIterable     = errors.New("loop source is not a list")
	ErrInvalidDataset  = errors.New("invalid dataset")
	ErrNoDatasetSource = errors.New("dataset store not configured")
)

// LoopItems resolves the elements a loop node iterates, in order
func LoopItems(
	ctx context.Context, data DataSource, cfg *api.LoopConfig, vars api.Vars,
) ([]any, error) {
	switch cfg.Kind() {
	case api.LoopFromDataset:
		if data == nil {
			return nil, ErrNoDatasetSource
		}
		ds, err := data.GetDataset(ctx, cfg.Source)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoopSource, err)
		}
		return DatasetItems(ds)
	default:
		return variableItems(cfg.Source, vars)
	}
}

// DatasetItems decodes a dataset into its rows. CSV rows become maps keyed
// by the header row
func DatasetItems(ds *api.Dataset) ([]any, error) {
	switch ds.Type {
	case api.DatasetCSV:
		return csvItems(ds.Content)
	case api.DatasetJSON, "":
		return jsonItems(gjson.Parse(ds.Content), ds.Name)
	default:
		return nil, fmt.Errorf("%w: %s: unknown type %q",
			ErrInvalidDataset, ds.Name, ds.Type)
	}
}

// variableItems looks the source up as a gjson path into the variable
// context, so nested values such as "users.active" can be iterated
func variableItems(path string, vars api.Vars) ([]any, error) {
	data, err := json.Marshal(vars)
	if err != nil {
		return nil, err
	}
	res := gjson.GetBytes(data, path)
	if !res.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrLoopSource, path)
	}
	if res.Type == gjson.String && gjson.Valid(res.Str) {
		res = gjson.Parse(res.Str)
	}
	return jsonItems(res, path)
}

func jsonItems(res gjson.Result, name string) ([]any, error) {
	if !res.IsArray() {
		return nil, fmt.Errorf("%w: %s", ErrNotIterable, name)
	}
	arr := res.Array()
	items := make([]any, len(arr))
	for i, el := range arr {
		items[i] = el.Value()
	}
	return items, nil
}

func csvItems(content string) ([]any, error) {
	r := csv.NewReader(strings.NewReader(content))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return []any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDataset, err)
	}

	var items []any
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDataset, err)
		}
		if isBlank(rec) {
			continue
		}
		row := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		items = append(items, row)
	}
	if items == nil {
		items = []any{}
	}
	return items, nil
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
