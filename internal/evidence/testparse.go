package evidence

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	passedRe   = regexp.MustCompile(`(\d+)\s+passed`)
	failedRe   = regexp.MustCompile(`(\d+)\s+failed`)
	skippedRe  = regexp.MustCompile(`(\d+)\s+skipped`)
	errorsRe   = regexp.MustCompile(`(\d+)\s+error`)
	coverageRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	goOKRe     = regexp.MustCompile(`(?m)^ok\s+`)
	goFailRe   = regexp.MustCompile(`(?m)^FAIL\s+`)
	cargoRe    = regexp.MustCompile(`(\d+)\s+passed.*?(\d+)\s+failed`)
)

// parseTestOutput recognizes the output of common test runners and extracts
// pass/fail counts. The second return is false when the command does not look
// like a test invocation.
func parseTestOutput(command, output string) (TestResult, bool) {
	outputLower := strings.ToLower(output)

	switch {
	case strings.Contains(command, "pytest") || strings.Contains(outputLower, "pytest"):
		return parsePytest(output), true
	case strings.Contains(command, "jest") || strings.Contains(command, "npm test") ||
		strings.Contains(outputLower, "tests passed"):
		return parseJest(output), true
	// cargo before go: "cargo test" contains "go test" wording pitfalls in
	// output heuristics, and the command check is cheap.
	case strings.Contains(command, "cargo test"):
		return parseCargo(output), true
	case strings.Contains(command, "go test"):
		return parseGoTest(output), true
	}
	return TestResult{}, false
}

func parsePytest(output string) TestResult {
	r := TestResult{Framework: "pytest"}
	r.Passed = firstInt(passedRe, output)
	r.Failed = firstInt(failedRe, output)
	r.Skipped = firstInt(skippedRe, output)
	r.Errors = firstInt(errorsRe, output)
	if m := coverageRe.FindStringSubmatch(output); m != nil {
		r.Coverage, _ = strconv.ParseFloat(m[1], 64)
	}
	return r
}

func parseJest(output string) TestResult {
	return TestResult{
		Framework: "jest",
		Passed:    firstInt(passedRe, output),
		Failed:    firstInt(failedRe, output),
	}
}

func parseGoTest(output string) TestResult {
	return TestResult{
		Framework: "go",
		Passed:    len(goOKRe.FindAllString(output, -1)),
		Failed:    len(goFailRe.FindAllString(output, -1)),
	}
}

func parseCargo(output string) TestResult {
	r := TestResult{Framework: "cargo"}
	if m := cargoRe.FindStringSubmatch(output); m != nil {
		r.Passed, _ = strconv.Atoi(m[1])
		r.Failed, _ = strconv.Atoi(m[2])
	}
	return r
}

func firstInt(re *regexp.Regexp, s string) int {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

var buildCommands = []string{"go build", "go vet", "cargo build", "npm run build", "make", "tsc", "mvn compile"}

// detectBuildFailure flags a failing build command so the quality assessor can
// apply its build-failure ceiling.
func detectBuildFailure(command, output string, exitCode int) bool {
	isBuild := false
	for _, b := range buildCommands {
		if strings.Contains(command, b) {
			isBuild = true
			break
		}
	}
	if !isBuild {
		return false
	}
	if exitCode != 0 {
		return true
	}
	outputLower := strings.ToLower(output)
	return strings.Contains(outputLower, "build failed") || strings.Contains(outputLower, "compilation error")
}
