package safety

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommand_BlocksDestructivePatterns(t *testing.T) {
	t.Parallel()
	v := NewValidator()

	blocked := []string{
		"rm -rf /",
		"rm -rf /*",
		"rm -rf ~",
		"rm -fr ~/projects",
		"dd if=/dev/zero of=/dev/sda",
		"mkfs.ext4 /dev/sda1",
		"git reset --hard",
		"git clean -fdx",
		"git push --force origin main",
		"chmod 777 /etc",
		"DROP TABLE users",
		"DROP DATABASE prod",
		"DELETE FROM accounts",
	}
	for _, cmd := range blocked {
		require.Error(t, v.ValidateCommand(cmd), "expected deny for %q", cmd)
	}

	allowed := []string{
		"ls -la",
		"git status",
		"npm install",
		"go test ./...",
		"rm build/output.txt",
	}
	for _, cmd := range allowed {
		require.NoError(t, v.ValidateCommand(cmd), "expected allow for %q", cmd)
	}
}

func TestValidateCommand_ErrorCarriesSeverityAndCasing(t *testing.T) {
	t.Parallel()
	v := NewValidator()

	err := v.ValidateCommand("rm -rf /")
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, KindDangerousCommand, verr.Kind)
	assert.Equal(t, CategoryFileDestruction, verr.Category)
	assert.Equal(t, 5, verr.Severity)

	// Matching is lowercase, reporting keeps the original casing.
	err = v.ValidateCommand("DROP TABLE Users")
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "DROP TABLE Users", verr.Value)
	assert.Equal(t, CategoryDataDestruction, verr.Category)
}

func TestValidateCommand_FirstCategoryWins(t *testing.T) {
	t.Parallel()
	v := NewValidator()

	// Matches both traversal and git-destruction; traversal is scanned first.
	err := v.ValidateCommand("git reset --hard ../main")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, CategoryTraversal, verr.Category)
}

func TestValidatePath(t *testing.T) {
	t.Parallel()
	v := NewValidator()

	cases := []struct {
		path     string
		kind     Kind
		category Category
	}{
		{"/etc/passwd", KindDangerousPath, CategorySystemPath},
		{"/bin/bash", KindDangerousPath, CategorySystemPath},
		{"/dev/sda1", KindDangerousPath, CategorySystemPath},
		{"../etc/config.yaml", KindDangerousPath, CategoryTraversal},
		{"foo/../../secrets.txt", KindDangerousPath, CategoryTraversal},
		{"project/credentials.json", KindDangerousPath, CategorySensitiveFile},
		{"/home/user/.ssh/id_rsa", KindDangerousPath, CategorySensitiveFile},
	}
	for _, tc := range cases {
		err := v.ValidatePath(tc.path)
		require.Error(t, err, "expected deny for %q", tc.path)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, tc.kind, verr.Kind, tc.path)
		assert.Equal(t, tc.category, verr.Category, tc.path)
	}

	for _, path := range []string{"/home/user/code", "./src/main.go", "README.md", "config.yaml"} {
		require.NoError(t, v.ValidatePath(path), "expected allow for %q", path)
	}
}

func TestValidatePath_StructuralChecks(t *testing.T) {
	t.Parallel()
	v := NewValidator()

	var verr *ValidationError

	long := "/home/user/" + strings.Repeat("a", MaxPathLength)
	require.True(t, errors.As(v.ValidatePath(long), &verr))
	assert.Equal(t, KindPathTooLong, verr.Kind)

	longName := "/home/user/" + strings.Repeat("b", MaxFilenameLength+1) + ".txt"
	require.True(t, errors.As(v.ValidatePath(longName), &verr))
	assert.Equal(t, KindFilenameTooLong, verr.Kind)

	require.True(t, errors.As(v.ValidatePath("/home/user/a\x00b.txt"), &verr))
	assert.Equal(t, KindNullByte, verr.Kind)

	require.True(t, errors.As(v.ValidatePath("/home/user/payload.exe"), &verr))
	assert.Equal(t, KindDisallowedExtension, verr.Kind)

	require.True(t, errors.As(v.ValidatePath("reports/CON.txt"), &verr))
	assert.Equal(t, KindReservedName, verr.Kind)
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"normal.txt":                "normal.txt",
		"file:with<bad>chars.txt":   "file_with_bad_chars.txt",
		"../../etc/passwd":          "etc_passwd",
		"..\\..\\windows\\system32": "windows_system32",
		"spaces in name.md":         "spaces_in_name.md",
		"":                          "unnamed",
		"   ...   ":                 "unnamed",
		"con":                       "safe_con",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}

func TestSanitizeFilename_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"normal.txt",
		"file:with<bad>chars.txt",
		"../../etc/passwd",
		"weird\x00name\twith\nstuff",
		strings.Repeat("x", 500) + ".go",
		"...",
		"con.log",
		"ünïcode.md",
	}
	for _, in := range inputs {
		once := SanitizeFilename(in)
		assert.Equal(t, once, SanitizeFilename(once), "not idempotent for %q", in)
	}
}

func TestPatternPack_ExtendsRegistry(t *testing.T) {
	t.Parallel()

	pack := []byte(`
patterns:
  - category: destructive-data-op
    pattern: 'redis-cli\s+flushall'
    description: redis flushall
    severity: 4
`)
	extra, err := LoadPatternPack(pack)
	require.NoError(t, err)
	require.Len(t, extra, 1)

	v := NewValidator(WithPatterns(extra))
	err = v.ValidateCommand("redis-cli FLUSHALL")
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, CategoryDataDestruction, verr.Category)
	assert.Equal(t, 4, verr.Severity)

	// Builtins still match first within their category.
	err = v.ValidateCommand("DROP TABLE users")
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "SQL DROP TABLE", verr.Pattern)
}

func TestPatternPack_RejectsInvalidRules(t *testing.T) {
	t.Parallel()

	_, err := LoadPatternPack([]byte("patterns:\n  - category: bogus\n    pattern: x\n    severity: 3\n"))
	require.Error(t, err)

	_, err = LoadPatternPack([]byte("patterns:\n  - category: system-path\n    pattern: x\n    severity: 9\n"))
	require.Error(t, err)

	_, err = LoadPatternPack([]byte("patterns:\n  - category: system-path\n    pattern: '['\n    severity: 2\n"))
	require.Error(t, err)
}
