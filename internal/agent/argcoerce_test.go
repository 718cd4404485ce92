package agent

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestNormalizeToolArgumentsPlainObject(t *testing.T) {
	got := NormalizeToolArguments(json.RawMessage(`{"path":"a.go","limit":5}`))
	want := map[string]any{"path": "a.go", "limit": float64(5)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestNormalizeToolArgumentsKwargsObject(t *testing.T) {
	got := NormalizeToolArguments(json.RawMessage(`{"kwargs":{"path":"a.go"}}`))
	want := map[string]any{"path": "a.go"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestNormalizeToolArgumentsKwargsString(t *testing.T) {
	got := NormalizeToolArguments(json.RawMessage(`{"kwargs":"path=a.go limit=5"}`))
	want := map[string]any{"path": "a.go", "limit": "5"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestNormalizeToolArgumentsKwargsQuotedString(t *testing.T) {
	got := NormalizeToolArguments(json.RawMessage(`{"kwargs":"message='hello world' count=2"}`))
	want := map[string]any{"message": "hello world", "count": "2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestNormalizeToolArgumentsArgsWrapper(t *testing.T) {
	got := NormalizeToolArguments(json.RawMessage(`{"args":"[1,2,3]"}`))
	want := map[string]any{"args": []any{float64(1), float64(2), float64(3)}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestNormalizeToolArgumentsBareStringJSON(t *testing.T) {
	got := NormalizeToolArguments(json.RawMessage(`"{\"path\":\"a.go\"}"`))
	want := map[string]any{"path": "a.go"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestNormalizeToolArgumentsBareStringKwargs(t *testing.T) {
	got := NormalizeToolArguments(json.RawMessage(`"path=a.go"`))
	want := map[string]any{"path": "a.go"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestCoerceArgumentsToSchemaWrapsKwargs(t *testing.T) {
	flat := map[string]any{"path": "a.go", "limit": float64(5)}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"kwargs": map[string]any{"type": "object"},
		},
	}
	got := CoerceArgumentsToSchema(flat, schema)
	want := map[string]any{"kwargs": map[string]any{"path": "a.go", "limit": float64(5)}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestCoerceArgumentsToSchemaNoWrapperNeeded(t *testing.T) {
	flat := map[string]any{"path": "a.go"}
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
	}
	got := CoerceArgumentsToSchema(flat, schema)
	if !reflect.DeepEqual(got, flat) {
		t.Fatalf("got %#v want %#v", got, flat)
	}
}
