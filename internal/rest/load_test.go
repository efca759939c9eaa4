package rest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type recordingInserter struct {
	batches [][]map[string]any
	failOn  int
}

func (r *recordingInserter) Insert(_ context.Context, table string, rows []map[string]any) error {
	r.batches = append(r.batches, rows)
	if len(r.batches) == r.failOn {
		return &APIError{Status: 400, Body: "bad row"}
	}
	return nil
}

func TestLoadCSV(t *testing.T) {
	in := "id,name\n1,Pizza\n2,\n3,Wings,extra\n4,Sub\n5,Soup\n"
	ins := &recordingInserter{failOn: 2}

	res, err := LoadCSV(context.Background(), ins, "v1_menu", strings.NewReader(in), LoadOptions{BatchSize: 2, EmptyAsNull: true})
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}

	if res.Rows != 4 || res.Skipped != 1 || res.Batches != 2 || res.Loaded != 2 || res.FailedRows != 2 {
		t.Errorf("unexpected tally %+v", res)
	}
	want := []map[string]any{{"id": "1", "name": "Pizza"}, {"id": "2", "name": nil}}
	if diff := cmp.Diff(want, ins.batches[0]); diff != "" {
		t.Errorf("first batch mismatch (-want +got):\n%s", diff)
	}
	var apiErr *APIError
	if len(res.Errors) != 2 || !errors.As(res.Errors[1], &apiErr) {
		t.Errorf("unexpected errors %v", res.Errors)
	}
}
