package parser

import (
	"fmt"
	"regexp"
)

// Dialect is one structural access-log pattern. Named groups feed the Record:
// ip, time, method, url, proto, status, length, referer, user_agent.
type Dialect struct {
	Name    string
	Pattern *regexp.Regexp
}

var (
	// IP - ident - user [Time] "Method URL Proto" Status Length "Referer" "User-Agent"
	combinedDialect = Dialect{
		Name: "combined",
		Pattern: regexp.MustCompile(
			`^(?P<ip>\S+) \S+ \S+ \[(?P<time>[^\]]*)\] ` +
				`"(?P<method>\S+) (?P<url>.*?) (?P<proto>[A-Z]+/[0-9.]+)" ` +
				`(?P<status>\d{3}) (?P<length>\d+|-) ` +
				`"(?P<referer>[^"]*)" "(?P<user_agent>[^"]*)"`),
	}

	// Common Log Format, combined without referer and user agent
	commonDialect = Dialect{
		Name: "common",
		Pattern: regexp.MustCompile(
			`^(?P<ip>\S+) \S+ \S+ \[(?P<time>[^\]]*)\] ` +
				`"(?P<method>\S+) (?P<url>.*?) (?P<proto>[A-Z]+/[0-9.]+)" ` +
				`(?P<status>\d{3}) (?P<length>\d+|-)(?:\s|$)`),
	}

	// AWS classic and application load balancer logs:
	// [type] time elb client:port target:port p1 p2 p3 elb_status target_status recv sent "METHOD URL PROTO" "UA" ...
	elbDialect = Dialect{
		Name: "elb",
		Pattern: regexp.MustCompile(
			`^(?:[a-z0-9]+ )?(?P<time>\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?Z) \S+ ` +
				`(?P<ip>[0-9a-fA-F.:\[\]]+):\d+ \S+ ` +
				`\S+ \S+ \S+ (?P<status>\d{3}|-) \S+ \d+ (?P<length>\d+) ` +
				`"(?P<method>\S+) (?P<url>.*?) (?P<proto>[A-Z]+/[0-9.]+|-)" "(?P<user_agent>[^"]*)"`),
	}
)

// DefaultDialects returns the ordered dialect chain tried for every line
func DefaultDialects() []Dialect {
	return []Dialect{combinedDialect, commonDialect, elbDialect}
}

// NewDialect compiles a caller-provided pattern. At least the ip group is required.
func NewDialect(name, pattern string) (Dialect, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Dialect{}, fmt.Errorf("failed to compile dialect %s: %w", name, err)
	}
	if re.SubexpIndex("ip") < 0 {
		return Dialect{}, fmt.Errorf("dialect %s has no (?P<ip>...) group", name)
	}
	return Dialect{Name: name, Pattern: re}, nil
}

// match returns the named captures of a structural match
func (d Dialect) match(line string) (map[string]string, bool) {
	m := d.Pattern.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	fields := make(map[string]string, len(m))
	for i, name := range d.Pattern.SubexpNames() {
		if name != "" && i < len(m) {
			fields[name] = m[i]
		}
	}
	return fields, true
}
