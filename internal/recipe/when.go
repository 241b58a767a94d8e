package recipe

import "fmt"

// Matchable provides the platform dimensions a WhenClause matches
// against. Both internal/platform.Target and internal/profile.Profile
// (via Profile.Matchable) satisfy this interface.
type Matchable interface {
	OS() string
	Arch() string
	LinuxFamily() string
}

// WhenClause is the constrained conditional-expression layer design note
// §9 calls for, in place of an embedded scripting interpreter: platform
// tuples, OS arrays, and individual arch/linux_family filters gate a
// dependency declaration.
//
// Matching semantics:
//   - Empty clause (all fields zero) matches every platform.
//   - Platform array: exact "os/arch" tuple match.
//   - OS array: matches any architecture on the listed OS.
//   - Platform and OS are mutually exclusive (enforced at load time).
type WhenClause struct {
	Platform    []string `toml:"platform,omitempty"`
	OS          []string `toml:"os,omitempty"`
	Arch        string   `toml:"arch,omitempty"`
	LinuxFamily string   `toml:"linux_family,omitempty"`
}

// IsEmpty reports whether the clause has no conditions.
func (w *WhenClause) IsEmpty() bool {
	return w == nil ||
		(len(w.Platform) == 0 && len(w.OS) == 0 && w.Arch == "" && w.LinuxFamily == "")
}

// Validate enforces Platform/OS mutual exclusivity.
func (w *WhenClause) Validate() error {
	if w == nil {
		return nil
	}
	if len(w.Platform) > 0 && len(w.OS) > 0 {
		return fmt.Errorf("when clause cannot have both 'platform' and 'os' fields")
	}
	return nil
}

// Matches reports whether target satisfies the clause.
func (w *WhenClause) Matches(target Matchable) bool {
	if w.IsEmpty() {
		return true
	}

	os := target.OS()
	arch := target.Arch()
	linuxFamily := target.LinuxFamily()

	if len(w.Platform) > 0 {
		tuple := fmt.Sprintf("%s/%s", os, arch)
		for _, p := range w.Platform {
			if p == tuple {
				return true
			}
		}
		return false
	}

	if len(w.OS) > 0 {
		matched := false
		for _, o := range w.OS {
			if o == os {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if w.Arch != "" && w.Arch != arch {
		return false
	}
	if w.LinuxFamily != "" && w.LinuxFamily != linuxFamily {
		return false
	}
	return true
}
