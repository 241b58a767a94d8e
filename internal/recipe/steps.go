package recipe

import "fmt"

// Recognized step actions, the "dop standard library surface" named in
// spec §4.4: filesystem helpers, run_cmd, download, checksum, installer,
// PkgConfFile, CMake, Meson, and archive create/extract.
const (
	ActionRunCmd         = "run_cmd"
	ActionDownload       = "download"
	ActionChecksum       = "checksum"
	ActionInstall        = "install"
	ActionMkdir          = "mkdir"
	ActionCopy           = "copy"
	ActionSymlink        = "symlink"
	ActionEnvSet         = "env_set"
	ActionCMake          = "cmake"
	ActionMeson          = "meson"
	ActionArchiveExtract = "archive_extract"
	ActionArchiveCreate  = "archive_create"
	ActionPkgConfFile    = "pkgconf_file"
)

// Step is a single ordered action within a hook's step list (source
// fetch, build, stage, post_stage). Params carries the action-specific
// fields; When optionally platform-gates the step.
type Step struct {
	Action string
	When   *WhenClause
	Note   string
	Params map[string]interface{}
}

// UnmarshalTOML implements toml.Unmarshaler, mirroring the flattened
// step encoding: every key besides "action"/"when"/"note" is an
// action-specific parameter.
func (s *Step) UnmarshalTOML(data interface{}) error {
	stepMap, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf("recipe: step must be a table")
	}

	if action, ok := stepMap["action"].(string); ok {
		s.Action = action
	}
	if s.Action == "" {
		return fmt.Errorf("recipe: step missing required 'action' field")
	}

	if whenData, ok := stepMap["when"].(map[string]interface{}); ok {
		w := &WhenClause{}
		if v, ok := whenData["platform"]; ok {
			w.Platform = toStringSlice(v)
		}
		if v, ok := whenData["os"]; ok {
			w.OS = toStringSlice(v)
		}
		if v, ok := whenData["arch"].(string); ok {
			w.Arch = v
		}
		if v, ok := whenData["linux_family"].(string); ok {
			w.LinuxFamily = v
		}
		if err := w.Validate(); err != nil {
			return err
		}
		s.When = w
	}

	if note, ok := stepMap["note"].(string); ok {
		s.Note = note
	}

	s.Params = make(map[string]interface{})
	for k, v := range stepMap {
		if k != "action" && k != "when" && k != "note" {
			s.Params[k] = v
		}
	}
	return nil
}

func toStringSlice(v interface{}) []string {
	switch val := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{val}
	default:
		return nil
	}
}

// ParamString returns Params[key] as a string, or "" if absent/wrong type.
func (s Step) ParamString(key string) string {
	v, ok := s.Params[key].(string)
	if !ok {
		return ""
	}
	return v
}

// ParamStringSlice returns Params[key] as a []string.
func (s Step) ParamStringSlice(key string) []string {
	return toStringSlice(s.Params[key])
}

// Applies reports whether the step's When clause matches target.
func (s Step) Applies(target Matchable) bool {
	return s.When.Matches(target)
}
