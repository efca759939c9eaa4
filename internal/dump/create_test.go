package dump

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseCreateTable(t *testing.T) {
	sql := "CREATE TABLE `menu` (\n" +
		"  `id` int(10) unsigned NOT NULL AUTO_INCREMENT,\n" +
		"  `name` varchar(125) CHARACTER SET latin1 DEFAULT NULL,\n" +
		"  `price` decimal(6,2) NOT NULL DEFAULT '0.00',\n" +
		"  `status` ENUM('Y','N') NOT NULL DEFAULT 'Y' COMMENT 'a, b',\n" +
		"  `hideOnDays` blob,\n" +
		"  PRIMARY KEY (`id`),\n" +
		"  UNIQUE KEY `uniq` (`name`),\n" +
		"  KEY `idx_price` (`price`)\n" +
		") ENGINE=InnoDB DEFAULT CHARSET=utf8;"

	ct, err := ParseCreateTable(sql)
	if err != nil {
		t.Fatalf("ParseCreateTable: %v", err)
	}
	want := &CreateTable{
		Name: "menu",
		Columns: []ColumnDef{
			{Name: "id", Type: "int(10)", Unsigned: true, AutoIncrement: true},
			{Name: "name", Type: "varchar(125)", Nullable: true, Default: "NULL"},
			{Name: "price", Type: "decimal(6,2)", Default: "'0.00'"},
			{Name: "status", Type: "enum('Y','N')", Default: "'Y'"},
			{Name: "hideOnDays", Type: "blob", Nullable: true},
		},
		PrimaryKey: []string{"id"},
	}
	if diff := cmp.Diff(want, ct); diff != "" {
		t.Fatalf("create table mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"id", "name", "price", "status", "hideOnDays"}, ct.ColumnNames()); diff != "" {
		t.Errorf("column names mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCreateTableInlinePrimaryKey(t *testing.T) {
	ct, err := ParseCreateTable(`CREATE TABLE IF NOT EXISTS legacy.users (id INT PRIMARY KEY, email VARCHAR(255) NOT NULL)`)
	if err != nil {
		t.Fatalf("ParseCreateTable: %v", err)
	}
	if ct.Schema != "legacy" || ct.Name != "users" {
		t.Fatalf("unexpected name %s.%s", ct.Schema, ct.Name)
	}
	if diff := cmp.Diff([]string{"id"}, ct.PrimaryKey); diff != "" {
		t.Errorf("primary key mismatch (-want +got):\n%s", diff)
	}
	if ct.Columns[0].Nullable {
		t.Error("primary key column should not be nullable")
	}
	if ct.Columns[1].Type != "varchar(255)" {
		t.Errorf("expected lowercased type, got %q", ct.Columns[1].Type)
	}
}

func TestParseCreateTableErrors(t *testing.T) {
	for _, sql := range []string{
		"DROP TABLE x",
		"CREATE TABLE x (id int",
		"CREATE TABLE x (PRIMARY KEY (id))",
	} {
		if _, err := ParseCreateTable(sql); err == nil {
			t.Errorf("expected error for %q", sql)
		}
	}
}
