package blob

import (
	"bytes"
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMenuOthers(t *testing.T) {
	first := `a:2:{s:7:"content";a:4:{i:11;s:4:"0.00";i:12;s:4:"1.50";i:13;s:9:"1.00,2.00";i:14;s:2:"99";}s:5:"radio";s:2:"42";}`
	second := `a:1:{s:7:"content";a:1:{i:20;s:4:"2.25";}}`
	in := "id,type,groupId,content_hex\n" +
		"5,e,7,0x" + strings.ToUpper(hex.EncodeToString([]byte(first))) + "\n" +
		"6,zz,0,0x" + strings.ToUpper(hex.EncodeToString([]byte(second))) + "\n"

	var out, errLog bytes.Buffer
	res, err := Run(context.Background(), strings.NewReader(in), &out, Options{
		Column:   "content_hex",
		Decoder:  MenuOthers{},
		ErrorLog: &errLog,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Rows != 2 || res.Decoded != 2 || res.Partial != 1 || res.Records != 4 {
		t.Errorf("unexpected tally %+v", res)
	}

	want := "id,ingredient_id,ingredient_group_id,base_price,price_by_size,modifier_type,is_included\n" +
		"5,11,42,0,,extras,true\n" +
		"5,12,42,1.5,,extras,false\n" +
		`5,13,42,,"{""S"":1,""M"":2}",extras,false` + "\n" +
		"6,20,,2.25,,other,false\n"
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(errLog.String(), "ingredient 14") {
		t.Errorf("expected the out-of-range price in the error log, got %q", errLog.String())
	}
}

func TestMenuOthersWithoutRow(t *testing.T) {
	rows, err := decode(t, MenuOthers{}, `a:1:{s:7:"content";a:1:{i:3;s:4:"1.00";}}`)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff([][]string{{"3", "", "1", "", "other", "false"}}, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}
