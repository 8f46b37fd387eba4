package models

import (
	"cmp"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Requirement is a parsed pip-style requirement such as
// "transformers>=4.45,<4.49" or "decord".
type Requirement struct {
	// Name is the normalized package name.
	Name  string
	Specs []VersionSpec
	Raw   string
}

// VersionSpec is one clause of a requirement.
type VersionSpec struct {
	Op      string
	Version string
}

var (
	requirementRe = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)\s*(\[[^\]]*\])?\s*(.*)$`)
	specRe        = regexp.MustCompile(`^(===|==|!=|~=|>=|<=|>|<)\s*([0-9A-Za-z.*+!_-]+)$`)
	nameSepRe     = regexp.MustCompile(`[-_.]+`)
	pyVersionRe   = regexp.MustCompile(`^(?:\d+!)?(\d+(?:\.\d+)*)(?:[._-]?(a|alpha|b|beta|c|rc|pre|preview)[._-]?(\d*))?(?:[._-]?(post|rev|r)[._-]?(\d*))?(?:[._-]?(dev)[._-]?(\d*))?(?:\+[0-9A-Za-z.]+)?$`)
)

// NormalizeName normalizes a package name the way pip compares them:
// lower case with runs of "-", "_" and "." folded to "-".
func NormalizeName(name string) string {
	return nameSepRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

// ParseRequirement parses a requirement string. Environment markers after
// ";" and extras in brackets are ignored.
func ParseRequirement(s string) (Requirement, error) {
	raw := strings.TrimSpace(s)
	body := raw
	if i := strings.IndexByte(body, ';'); i >= 0 {
		body = strings.TrimSpace(body[:i])
	}
	m := requirementRe.FindStringSubmatch(body)
	if m == nil {
		return Requirement{}, fmt.Errorf("invalid requirement %q", raw)
	}
	req := Requirement{Name: NormalizeName(m[1]), Raw: raw}

	rest := strings.TrimSpace(m[3])
	if rest == "" {
		return req, nil
	}
	for _, clause := range strings.Split(rest, ",") {
		clause = strings.TrimSpace(clause)
		sm := specRe.FindStringSubmatch(clause)
		if sm == nil {
			return Requirement{}, fmt.Errorf("invalid version clause %q in requirement %q", clause, raw)
		}
		op, ver := sm[1], sm[2]
		if op != "===" {
			check := strings.TrimSuffix(ver, ".*")
			if strings.HasSuffix(ver, ".*") && op != "==" && op != "!=" {
				return Requirement{}, fmt.Errorf("wildcard not allowed with %s in requirement %q", op, raw)
			}
			if _, err := parsePyVersion(check); err != nil {
				return Requirement{}, fmt.Errorf("requirement %q: %w", raw, err)
			}
			if op == "~=" && !strings.Contains(check, ".") {
				return Requirement{}, fmt.Errorf("requirement %q: ~= needs at least two release components", raw)
			}
		}
		req.Specs = append(req.Specs, VersionSpec{Op: op, Version: ver})
	}
	return req, nil
}

// String returns the requirement as declared.
func (r Requirement) String() string { return r.Raw }

// Satisfied reports whether installed satisfies every clause. An empty
// version means the package is not installed.
func (r Requirement) Satisfied(installed string) (bool, error) {
	if installed == "" {
		return false, nil
	}
	for _, s := range r.Specs {
		ok, err := s.matches(installed)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (s VersionSpec) matches(installed string) (bool, error) {
	if s.Op == "===" {
		return installed == s.Version, nil
	}
	have, err := parsePyVersion(installed)
	if err != nil {
		return false, err
	}

	if prefix, ok := strings.CutSuffix(s.Version, ".*"); ok {
		want, err := parsePyVersion(prefix)
		if err != nil {
			return false, err
		}
		match := have.hasReleasePrefix(want.release)
		if s.Op == "!=" {
			return !match, nil
		}
		return match, nil
	}

	want, err := parsePyVersion(s.Version)
	if err != nil {
		return false, err
	}
	c := have.compare(want)
	switch s.Op {
	case "==":
		return c == 0, nil
	case "!=":
		return c != 0, nil
	case ">=":
		return c >= 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		// >V excludes post-releases of V unless V is a post-release. Local
		// labels compare equal, so 2.4.0+cu121 is never above 2.4.0.
		if c > 0 && !want.isPost() && have.isPost() && have.sameRelease(want) {
			return false, nil
		}
		return c > 0, nil
	case "<":
		// <V excludes pre-releases of V unless V is a pre-release.
		if c < 0 && !want.isPre() && have.isPre() && have.sameRelease(want) {
			return false, nil
		}
		return c < 0, nil
	case "~=":
		// ~=X.Y.Z means >=X.Y.Z together with ==X.Y.*
		return c >= 0 && have.hasReleasePrefix(want.release[:len(want.release)-1]), nil
	default:
		return false, fmt.Errorf("unknown operator %q", s.Op)
	}
}

// pyVersion is a parsed Python (PEP 440) version.
type pyVersion struct {
	release []int

	// pre is the pre-release label as a semver pre-release ("a.1", "rc.0"),
	// "0dev" for a bare dev release, or empty.
	pre string

	// post and dev are -1 when absent.
	post int
	dev  int
}

func parsePyVersion(s string) (pyVersion, error) {
	m := pyVersionRe.FindStringSubmatch(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "v")))
	if m == nil {
		return pyVersion{}, fmt.Errorf("invalid version %q", s)
	}
	v := pyVersion{post: -1, dev: -1}
	for _, part := range strings.Split(m[1], ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return pyVersion{}, fmt.Errorf("invalid version %q", s)
		}
		v.release = append(v.release, n)
	}

	// Pre-release labels are mapped so that semver's ordering of pre-release
	// identifiers matches Python's: dev < a < b < rc.
	switch label, num := m[2], numOrZero(m[3]); label {
	case "a", "alpha":
		v.pre = "a." + num
	case "b", "beta":
		v.pre = "b." + num
	case "c", "rc", "pre", "preview":
		v.pre = "rc." + num
	}
	if m[4] != "" {
		v.post, _ = strconv.Atoi(numOrZero(m[5]))
	}
	if m[6] == "dev" {
		v.dev, _ = strconv.Atoi(numOrZero(m[7]))
		if v.pre == "" && v.post < 0 {
			v.pre = "0dev"
		}
	}
	return v, nil
}

// compare orders versions by release, pre-release, post-release and dev
// release, in that order. A dev release sorts before the version it
// develops; local labels are ignored.
func (v pyVersion) compare(w pyVersion) int {
	if c := compareRelease(v.release, w.release); c != 0 {
		return c
	}
	if c := semver.Compare(v.preSemver(), w.preSemver()); c != 0 {
		return c
	}
	if c := cmp.Compare(v.post, w.post); c != 0 {
		return c
	}
	return cmp.Compare(devKey(v.dev), devKey(w.dev))
}

func devKey(dev int) int {
	if dev < 0 {
		return math.MaxInt
	}
	return dev
}

func compareRelease(a, b []int) int {
	for i := range max(len(a), len(b)) {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if c := cmp.Compare(x, y); c != 0 {
			return c
		}
	}
	return 0
}

// preSemver places the pre-release label on a fixed release so semver
// compares only the label.
func (v pyVersion) preSemver() string {
	if v.pre == "" {
		return "v0.0.0"
	}
	return "v0.0.0-" + v.pre
}

func (v pyVersion) isPre() bool  { return v.pre != "" || v.dev >= 0 }
func (v pyVersion) isPost() bool { return v.post >= 0 }

func (v pyVersion) sameRelease(w pyVersion) bool {
	return compareRelease(v.release, w.release) == 0
}

func numOrZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// semver renders the version canonically, e.g. 4.50.0.dev0 -> v4.50.0-0dev.0.
// Release components beyond the third and post-release numbers are dropped.
func (v pyVersion) semver() string {
	parts := [3]int{}
	copy(parts[:], v.release)
	s := fmt.Sprintf("v%d.%d.%d", parts[0], parts[1], parts[2])
	pre := v.pre
	if v.dev >= 0 {
		dev := "0dev." + strconv.Itoa(v.dev)
		switch pre {
		case "", "0dev":
			pre = dev
		default:
			pre += "." + dev
		}
	}
	if pre != "" {
		s += "-" + pre
	}
	return s
}

func (v pyVersion) hasReleasePrefix(prefix []int) bool {
	for i, p := range prefix {
		have := 0
		if i < len(v.release) {
			have = v.release[i]
		}
		if have != p {
			return false
		}
	}
	return true
}

// CanonicalVersion returns the semver form of a Python version's release and
// pre-release segments.
func CanonicalVersion(s string) (string, error) {
	v, err := parsePyVersion(s)
	if err != nil {
		return "", err
	}
	return v.semver(), nil
}
