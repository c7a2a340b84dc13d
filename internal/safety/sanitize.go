package safety

import "strings"

var filenameAllowed = func() [256]bool {
	var t [256]bool
	for c := 'a'; c <= 'z'; c++ {
		t[c] = true
	}
	for c := 'A'; c <= 'Z'; c++ {
		t[c] = true
	}
	for c := '0'; c <= '9'; c++ {
		t[c] = true
	}
	t['.'] = true
	t['_'] = true
	t['-'] = true
	return t
}()

// SanitizeFilename maps an arbitrary string to a safe filename. Traversal
// sequences are collapsed (removed, not escaped), every byte outside the
// alphanumeric/dot/underscore/dash allow-list becomes an underscore, and
// reserved platform device names get a "safe_" prefix. The function is pure
// and idempotent: sanitizing an already sanitized name is a no-op.
func SanitizeFilename(name string) string {
	s := strings.ReplaceAll(name, "\x00", "")

	for {
		collapsed := strings.ReplaceAll(s, "../", "")
		collapsed = strings.ReplaceAll(collapsed, `..\`, "")
		if collapsed == s {
			break
		}
		s = collapsed
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if filenameAllowed[s[i]] {
			b.WriteByte(s[i])
		} else {
			b.WriteByte('_')
		}
	}
	s = b.String()

	s = strings.Trim(s, ". ")
	if len(s) > MaxFilenameLength {
		s = s[:MaxFilenameLength]
		s = strings.Trim(s, ". ")
	}
	if s == "" {
		return "unnamed"
	}
	if isReservedDeviceName(s) {
		s = "safe_" + s
	}
	return s
}
