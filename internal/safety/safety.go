// Package safety classifies commands and filesystem paths before an agent
// tool call is allowed to run. All state is built once at construction and
// read-only afterwards, so a single Validator is safe for concurrent use by
// any number of hook callbacks.
package safety

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// MaxPathLength is the longest path ValidatePath accepts.
	MaxPathLength = 4096
	// MaxFilenameLength is the longest single path element ValidatePath accepts.
	MaxFilenameLength = 255
)

// Category names a class of dangerous pattern. Categories are scanned in the
// fixed order of the categoryOrder table; the first matching pattern wins.
type Category string

const (
	CategoryTraversal        Category = "path-traversal"
	CategoryFileDestruction  Category = "destructive-file-op"
	CategoryGitDestruction   Category = "destructive-version-control"
	CategoryPermissiveAccess Category = "permissive-access-change"
	CategoryDataDestruction  Category = "destructive-data-op"
	CategorySystemPath       Category = "system-path"
	CategorySensitiveFile    Category = "sensitive-file"
)

var categoryOrder = []Category{
	CategoryTraversal,
	CategoryFileDestruction,
	CategoryGitDestruction,
	CategoryPermissiveAccess,
	CategoryDataDestruction,
	CategorySystemPath,
	CategorySensitiveFile,
}

// Pattern is a compiled dangerous-pattern rule. Severity ranges from 1
// (informational) to 5 (irreversible system or data destruction).
type Pattern struct {
	Category    Category
	Expr        *regexp.Regexp
	Description string
	Severity    int
}

// Kind tags the variant of a ValidationError.
type Kind string

const (
	KindDangerousCommand    Kind = "dangerous_command"
	KindDangerousPath       Kind = "dangerous_path"
	KindPathTooLong         Kind = "path_too_long"
	KindFilenameTooLong     Kind = "filename_too_long"
	KindNullByte            Kind = "null_byte"
	KindDisallowedExtension Kind = "disallowed_extension"
	KindReservedName        Kind = "reserved_name"
)

// ValidationError reports why an input was rejected. It is always returned as
// a value for the caller to inspect, never panicked.
type ValidationError struct {
	Kind     Kind
	Value    string // offending input, original casing preserved
	Category Category
	Pattern  string // description of the matched pattern, if any
	Severity int
	Length   int // for length violations
	Limit    int
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case KindDangerousCommand:
		return fmt.Sprintf("dangerous command blocked: %q (%s: %s, severity %d/5)", e.Value, e.Category, e.Pattern, e.Severity)
	case KindDangerousPath:
		return fmt.Sprintf("path blocked: %q (%s: %s, severity %d/5)", e.Value, e.Category, e.Pattern, e.Severity)
	case KindPathTooLong:
		return fmt.Sprintf("path too long: %d > %d", e.Length, e.Limit)
	case KindFilenameTooLong:
		return fmt.Sprintf("filename too long: %d > %d", e.Length, e.Limit)
	case KindNullByte:
		return fmt.Sprintf("null byte in path: %q", e.Value)
	case KindDisallowedExtension:
		return fmt.Sprintf("disallowed file extension: %q", e.Value)
	case KindReservedName:
		return fmt.Sprintf("reserved device name: %q", e.Value)
	}
	return fmt.Sprintf("validation failed for %q", e.Value)
}

// Validator checks commands and paths against the dangerous-pattern registry.
type Validator struct {
	patterns    []Pattern // ordered by category, builtins before pack extras
	allowedExts map[string]struct{}
}

// Option configures a Validator at construction time.
type Option func(*builder)

type builder struct {
	extra []Pattern
}

// WithPatterns appends extra patterns after the builtins of their category.
func WithPatterns(patterns []Pattern) Option {
	return func(b *builder) {
		b.extra = append(b.extra, patterns...)
	}
}

// NewValidator builds a validator with the builtin registry plus any extras.
func NewValidator(opts ...Option) *Validator {
	var b builder
	for _, opt := range opts {
		opt(&b)
	}

	byCategory := make(map[Category][]Pattern, len(categoryOrder))
	for _, p := range builtinPatterns() {
		byCategory[p.Category] = append(byCategory[p.Category], p)
	}
	for _, p := range b.extra {
		byCategory[p.Category] = append(byCategory[p.Category], p)
	}

	ordered := make([]Pattern, 0, len(b.extra)+48)
	for _, cat := range categoryOrder {
		ordered = append(ordered, byCategory[cat]...)
	}

	return &Validator{
		patterns:    ordered,
		allowedExts: allowedExtensions(),
	}
}

// ValidateCommand scans a command string against every pattern category in
// order and returns the first match as a deny. Matching is case-insensitive;
// the original casing is preserved in the returned error.
func (v *Validator) ValidateCommand(command string) error {
	lower := strings.ToLower(command)
	for i := range v.patterns {
		p := &v.patterns[i]
		if p.Expr.MatchString(lower) {
			return &ValidationError{
				Kind:     KindDangerousCommand,
				Value:    command,
				Category: p.Category,
				Pattern:  p.Description,
				Severity: p.Severity,
			}
		}
	}
	return nil
}

// ValidatePath checks structural constraints first (length, filename length,
// NUL bytes, extension, reserved device names) and then scans the pattern
// registry in category order. Structural checks running first is a deliberate,
// documented ordering choice.
func (v *Validator) ValidatePath(path string) error {
	if len(path) > MaxPathLength {
		return &ValidationError{Kind: KindPathTooLong, Value: path, Length: len(path), Limit: MaxPathLength}
	}
	if strings.ContainsRune(path, 0) {
		return &ValidationError{Kind: KindNullByte, Value: path}
	}

	name := filepath.Base(path)
	if len(name) > MaxFilenameLength {
		return &ValidationError{Kind: KindFilenameTooLong, Value: name, Length: len(name), Limit: MaxFilenameLength}
	}
	if isReservedDeviceName(name) {
		return &ValidationError{Kind: KindReservedName, Value: name}
	}
	if err := v.validateExtension(path); err != nil {
		return err
	}

	lower := strings.ToLower(path)
	for i := range v.patterns {
		p := &v.patterns[i]
		if p.Expr.MatchString(lower) {
			return &ValidationError{
				Kind:     KindDangerousPath,
				Value:    path,
				Category: p.Category,
				Pattern:  p.Description,
				Severity: p.Severity,
			}
		}
	}
	return nil
}

func (v *Validator) validateExtension(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return nil
	}
	// Dotfiles like ".env" are judged by the sensitive-file patterns, not here.
	if strings.HasPrefix(filepath.Base(path), ".") && filepath.Ext(path) == filepath.Base(path) {
		return nil
	}
	if _, ok := v.allowedExts[ext]; !ok {
		return &ValidationError{Kind: KindDisallowedExtension, Value: path, Pattern: ext}
	}
	return nil
}

func allowedExtensions() map[string]struct{} {
	exts := []string{
		".md", ".json", ".py", ".js", ".ts", ".jsx", ".tsx", ".txt", ".yml", ".yaml",
		".toml", ".cfg", ".conf", ".sh", ".ps1", ".html", ".css", ".svg", ".png", ".jpg",
		".gif", ".rs", ".go", ".java", ".c", ".cpp", ".h", ".hpp", ".sql", ".mod", ".sum",
		".lock", ".xml", ".proto", ".rb", ".php",
	}
	out := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		out[e] = struct{}{}
	}
	return out
}

var reservedDeviceNames = map[string]struct{}{
	"con": {}, "prn": {}, "aux": {}, "nul": {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {}, "com5": {},
	"com6": {}, "com7": {}, "com8": {}, "com9": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {}, "lpt5": {},
	"lpt6": {}, "lpt7": {}, "lpt8": {}, "lpt9": {},
}

func isReservedDeviceName(name string) bool {
	base := strings.ToLower(name)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	_, ok := reservedDeviceNames[base]
	return ok
}
