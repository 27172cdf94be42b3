package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopyTreeKeepsModesAndReplacesDst(t *testing.T) {
	src := t.TempDir()
	WriteFiles(t, src, map[string]string{"src/a.c": "int a;\n", "tools/cc.sh": "cat \"$1\"\n"})
	if err := os.Chmod(filepath.Join(src, "tools", "cc.sh"), 0o755); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "project")
	WriteFiles(t, dst, map[string]string{"stale.o": "old"})
	if err := CopyTree(src, dst); err != nil {
		t.Fatalf("copy: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dst, "src", "a.c"))
	if err != nil || string(b) != "int a;\n" {
		t.Fatalf("content: %q %v", b, err)
	}
	st, err := os.Stat(filepath.Join(dst, "tools", "cc.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode().Perm()&0o100 == 0 {
		t.Fatalf("executable bit lost: %v", st.Mode())
	}
	if _, err := os.Stat(filepath.Join(dst, "stale.o")); !os.IsNotExist(err) {
		t.Fatalf("dst not replaced: %v", err)
	}
}
