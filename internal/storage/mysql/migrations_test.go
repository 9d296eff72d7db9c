package mysql

import (
	"strings"
	"testing"
)

func TestLoadMigrationFilesOrdered(t *testing.T) {
	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("加载迁移文件失败: %v", err)
	}
	if len(files) < 4 {
		t.Fatalf("迁移文件数 = %d, 期望至少 4", len(files))
	}
	for i := 1; i < len(files); i++ {
		if files[i-1].version >= files[i].version {
			t.Fatalf("迁移顺序错误: %s >= %s", files[i-1].version, files[i].version)
		}
	}
	if files[0].version != "0001" {
		t.Fatalf("首个迁移版本 = %q, 期望 0001", files[0].version)
	}
	for _, file := range files {
		for _, stmt := range file.statements {
			if strings.TrimSpace(stmt) == "" {
				t.Fatalf("迁移 %s 含空语句", file.name)
			}
		}
	}
}

func TestSplitSQLStatements(t *testing.T) {
	statements := splitSQLStatements("CREATE TABLE a (id INT);\n\nINSERT INTO a VALUES (1);\n")
	if len(statements) != 2 {
		t.Fatalf("语句数 = %d, 期望 2", len(statements))
	}
	if !strings.HasPrefix(statements[0], "CREATE TABLE") || !strings.HasPrefix(statements[1], "INSERT INTO") {
		t.Fatalf("拆分结果不符: %v", statements)
	}
	if got := splitSQLStatements(" ;; \n"); len(got) != 0 {
		t.Fatalf("空白内容应拆出 0 条语句, 实际 %d", len(got))
	}
}

func TestParseMigrationVersion(t *testing.T) {
	cases := map[string]string{
		"0001_protocol.sql": "0001",
		"0002_escrow.sql":   "0002",
		"0100.sql":          "0100",
		"plain":             "plain",
	}
	for name, want := range cases {
		if got := parseMigrationVersion(name); got != want {
			t.Fatalf("parseMigrationVersion(%q) = %q, 期望 %q", name, got, want)
		}
	}
}
