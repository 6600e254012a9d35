package script

import (
	"context"
	"testing"

	"github.com/claudebench/claudebench/internal/store"
	"github.com/claudebench/claudebench/internal/store/storetest"
)

func TestParseResultDecodesSuccessTuple(t *testing.T) {
	res, err := ParseResult([]interface{}{int64(1), "task-123"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !res.OK || res.Detail != "task-123" {
		t.Fatalf("res = %+v, want OK=true Detail=task-123", res)
	}
}

func TestParseResultDecodesFailureTuple(t *testing.T) {
	res, err := ParseResult([]interface{}{int64(0), "not_found"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.OK || res.Detail != "not_found" {
		t.Fatalf("res = %+v, want OK=false Detail=not_found", res)
	}
}

func TestParseResultRejectsWrongArity(t *testing.T) {
	if _, err := ParseResult([]interface{}{int64(1)}); err == nil {
		t.Fatal("expected an error for a one-element result")
	}
}

func TestParseResultRejectsNonArrayShape(t *testing.T) {
	if _, err := ParseResult("not-a-tuple"); err == nil {
		t.Fatal("expected an error for a non-array result")
	}
}

func TestParseResultRejectsNonIntOKField(t *testing.T) {
	if _, err := ParseResult([]interface{}{"1", "detail"}); err == nil {
		t.Fatal("expected an error when the ok field isn't an int64")
	}
}

func TestLoadAllLoadsEveryNamedScript(t *testing.T) {
	f := storetest.New()
	if err := LoadAll(context.Background(), f); err != nil {
		t.Fatalf("load_all: %v", err)
	}
	want := Sources(store.Namespace())
	if len(want) == 0 {
		t.Fatal("expected at least one script source in the library")
	}
	for _, name := range All() {
		if want[name] == "" {
			t.Errorf("no source for named script %q, so LoadAll would not load it", name)
		}
	}
}
