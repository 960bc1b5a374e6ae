package hotreload

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestResolveBuildConfig_PrefersBuildVariant(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tsconfig.json", `{"include": ["src/**/*.ts"]}`)
	writeFile(t, dir, "tsconfig.build.json", `{"include": ["lib/**/*.ts"], "exclude": ["lib/**/*.test.ts"]}`)

	include, exclude, err := resolveBuildConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(include) != 1 || include[0] != "lib/**/*.ts" {
		t.Fatalf("include = %v, want the *.build.json variant's include", include)
	}
	if len(exclude) != 1 || exclude[0] != "lib/**/*.test.ts" {
		t.Fatalf("exclude = %v, want the *.build.json variant's exclude", exclude)
	}
}

func TestResolveBuildConfig_FollowsExtends(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tsconfig.base.json", `{"include": ["src/**/*.ts"], "exclude": ["src/**/*.spec.ts"]}`)
	writeFile(t, dir, "tsconfig.json", `{"extends": "./tsconfig.base.json"}`)

	include, exclude, err := resolveBuildConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(include) != 1 || include[0] != "src/**/*.ts" {
		t.Fatalf("include = %v, want inherited from extends chain", include)
	}
	if len(exclude) != 1 || exclude[0] != "src/**/*.spec.ts" {
		t.Fatalf("exclude = %v, want inherited from extends chain", exclude)
	}
}

func TestResolveBuildConfig_MissingIsError(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := resolveBuildConfig(dir); err == nil {
		t.Fatal("expected an error when no build config file exists")
	}
}

func TestResolveSourceFiles_HonorsExclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/a.ts", "a")
	writeFile(t, dir, "src/a.spec.ts", "a-spec")
	writeFile(t, dir, "src/nested/b.ts", "b")

	files, err := resolveSourceFiles(dir, []string{"src/**/*.ts"}, []string{"src/**/*.spec.ts"})
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(files)
	want := []string{"src/a.ts", "src/nested/b.ts"}
	if len(files) != len(want) {
		t.Fatalf("resolveSourceFiles() = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("resolveSourceFiles() = %v, want %v", files, want)
		}
	}
}

func TestResolveSourceFiles_DeterministicOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "z.ts", "z")
	writeFile(t, dir, "a.ts", "a")
	writeFile(t, dir, "m.ts", "m")

	files, err := resolveSourceFiles(dir, []string{"*.ts"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !sort.StringsAreSorted(files) {
		t.Fatalf("resolveSourceFiles() = %v, want sorted", files)
	}
}

func TestComputePackageHash_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tsconfig.json", `{"include": ["*.ts"]}`)
	writeFile(t, dir, "a.ts", "export const a = 1;")

	h1, err := computePackageHash(dir)
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, dir, "a.ts", "export const a = 2;")
	h2, err := computePackageHash(dir)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Fatal("computePackageHash did not change after a source edit")
	}

	if err := os.Remove(filepath.Join(dir, "a.ts")); err != nil {
		t.Fatal(err)
	}
}
