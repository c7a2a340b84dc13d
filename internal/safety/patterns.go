package safety

import "regexp"

type patternSpec struct {
	category    Category
	expr        string
	description string
	severity    int
}

// The builtin registry. Patterns are matched against lowercased input, so the
// expressions themselves are written in lowercase. Order within a category is
// the order below; categories are scanned in categoryOrder.
var builtinSpecs = []patternSpec{
	// Path traversal
	{CategoryTraversal, `\.\./`, "directory traversal using ../", 4},
	{CategoryTraversal, `\.\.\\`, `directory traversal using ..\`, 4},

	// Destructive file operations
	{CategoryFileDestruction, `rm\s+-(rf?|fr)\s+/\s*$`, "recursive deletion of root directory", 5},
	{CategoryFileDestruction, `rm\s+-(rf?|fr)\s+/\*`, "recursive deletion of root contents", 5},
	{CategoryFileDestruction, `rm\s+-(rf?|fr)\s+~`, "recursive deletion of home directory", 5},
	{CategoryFileDestruction, `rm\s+-(rf?|fr)\s+\$home`, "recursive deletion of $HOME", 5},
	{CategoryFileDestruction, `dd\s+if=/dev/(zero|random|urandom)`, "disk wiping with dd", 5},
	{CategoryFileDestruction, `mkfs\.`, "filesystem formatting", 5},
	{CategoryFileDestruction, `>\s*/dev/sd[a-z]`, "writing to raw disk device", 5},
	{CategoryFileDestruction, `:\(\)\s*\{\s*:\|:&\s*\}\s*;\s*:`, "fork bomb", 5},

	// Destructive version control
	{CategoryGitDestruction, `git\s+reset\s+--hard`, "hard reset discards local changes", 4},
	{CategoryGitDestruction, `git\s+checkout\s+--\s+`, "git checkout with path reverts files", 4},
	{CategoryGitDestruction, `git\s+clean\s+-[a-z]*[fd]`, "git clean deletes untracked files", 4},
	{CategoryGitDestruction, `git\s+push\s+.*(--force|-f\s).*\s(main|master)`, "force push to main/master", 4},

	// Permissive access changes
	{CategoryPermissiveAccess, `chmod\s+777\s+`, "world-writable permissions", 3},
	{CategoryPermissiveAccess, `chmod\s+-r\s+777`, "recursive chmod 777", 3},
	{CategoryPermissiveAccess, `chown\s+.*\s+/(etc|usr|bin)`, "ownership change on system directory", 4},

	// Destructive data operations
	{CategoryDataDestruction, `drop\s+table`, "SQL DROP TABLE", 4},
	{CategoryDataDestruction, `drop\s+database`, "SQL DROP DATABASE", 5},
	{CategoryDataDestruction, `delete\s+from`, "SQL DELETE FROM", 3},
	{CategoryDataDestruction, `truncate\s+table`, "SQL TRUNCATE TABLE", 4},

	// System paths (anchored so only absolute targets match)
	{CategorySystemPath, `^/etc/`, "/etc system configuration", 4},
	{CategorySystemPath, `^/bin/`, "/bin essential binaries", 4},
	{CategorySystemPath, `^/sbin/`, "/sbin system binaries", 4},
	{CategorySystemPath, `^/usr/bin/`, "/usr/bin user binaries", 4},
	{CategorySystemPath, `^/usr/sbin/`, "/usr/sbin system binaries", 4},
	{CategorySystemPath, `^/boot/`, "/boot bootloader files", 5},
	{CategorySystemPath, `^/dev/`, "/dev device files", 5},
	{CategorySystemPath, `^/proc/`, "/proc process information", 4},
	{CategorySystemPath, `^/sys/`, "/sys kernel interface", 4},
	{CategorySystemPath, `^[a-z]:[/\\]windows[/\\]`, `windows system directory`, 4},
	{CategorySystemPath, `^[a-z]:[/\\]program files[/\\]`, `program files directory`, 3},

	// Sensitive files
	{CategorySensitiveFile, `\.env$`, "environment file", 4},
	{CategorySensitiveFile, `\.secret`, "secret file", 4},
	{CategorySensitiveFile, `credentials`, "credentials file", 5},
	{CategorySensitiveFile, `passwd$`, "password file", 5},
	{CategorySensitiveFile, `shadow$`, "shadow password file", 5},
	{CategorySensitiveFile, `\.ssh/`, "ssh key directory", 5},
	{CategorySensitiveFile, `\.aws/`, "aws credentials directory", 5},
	{CategorySensitiveFile, `\.gnupg/`, "gpg directory", 5},
}

func builtinPatterns() []Pattern {
	out := make([]Pattern, 0, len(builtinSpecs))
	for _, s := range builtinSpecs {
		out = append(out, Pattern{
			Category:    s.category,
			Expr:        regexp.MustCompile(s.expr),
			Description: s.description,
			Severity:    s.severity,
		})
	}
	return out
}
