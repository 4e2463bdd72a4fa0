package site

import (
	"log/slog"
	"regexp"
	"strings"
)

var regexLine = regexp.MustCompile(`^/(.*)/([gimsuy]*)$`)

// Blacklisted reports whether rawURL matches any line of list.
//
// Lines of the form /pattern/flags are regular expressions. Lines that
// look like a bare domain match that host and its subdomains. Anything
// else matches as a substring.
func Blacklisted(rawURL, list string, logger *slog.Logger) bool {
	if logger == nil {
		logger = slog.Default()
	}
	for _, line := range strings.Split(list, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		re, err := lineRegexp(line)
		if err != nil {
			logger.Warn("site: invalid blacklist entry", "entry", line, "error", err)
			continue
		}
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

func lineRegexp(line string) (*regexp.Regexp, error) {
	if strings.HasPrefix(line, "/") {
		if m := regexLine.FindStringSubmatch(line); m != nil {
			pattern := m[1]
			if strings.Contains(m[2], "i") {
				pattern = "(?i)" + pattern
			}
			return regexp.Compile(pattern)
		}
	}
	quoted := regexp.QuoteMeta(line)
	if strings.Contains(line, ".") && !strings.Contains(line, "/") {
		return regexp.Compile(`(^|\.|//)` + quoted + `(/|:|$)`)
	}
	return regexp.Compile(quoted)
}
